package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
)

// userInfo is the subset of the OIDC userinfo response the dashboard needs.
type userInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// fetchUserInfo retrieves the signed-in user's profile with a bearer token.
func fetchUserInfo(ctx context.Context, client *http.Client, userInfoURL, accessToken string) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[fetchUserInfo] build request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return nil, autherrors.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, autherrors.ErrUnauthorized
	case resp.StatusCode >= 500:
		return nil, autherrors.Transient(errors.Errorf("userinfo returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("[fetchUserInfo] userinfo returned %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "[fetchUserInfo] decode")
	}
	if info.Sub == "" {
		return nil, errors.New("[fetchUserInfo] userinfo missing sub")
	}
	return &info, nil
}
