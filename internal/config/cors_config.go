package config

import "strings"

type Cors struct{}

var _ CorsConfig = Cors{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return strings.Join(origins, ", ")
}

// The dashboard runs inside an Electron/WebView shell, so requests from any
// origin must be able to reach the device-flow endpoints.
var allowedOrigins = AllowedOrigins{"*": nullValue{}}

func (Cors) GetAllowedOrigins() AllowedOrigins {
	origins := GetEnv("ALLOWED_ORIGINS", "")
	if origins == "" {
		return allowedOrigins
	}
	parsed := AllowedOrigins{}
	for _, o := range strings.Split(origins, ",") {
		parsed[strings.TrimSpace(o)] = nullValue{}
	}
	return parsed
}

func (Cors) GetAllowedMethods() string {
	return "GET, POST, PUT, PATCH, DELETE"
}

func (Cors) GetAllowedHeaders() string {
	return "Content-Type, Authorization"
}
