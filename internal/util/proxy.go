package util

import (
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// NewProxyFunc builds the transport proxy function. Without explicit proxies
// the environment (HTTP_PROXY, HTTPS_PROXY, NO_PROXY) decides.
func NewProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	cfg := &httpproxy.Config{
		HTTPProxy:  httpProxy,
		HTTPSProxy: httpsProxy,
		NoProxy:    noProxy,
	}
	proxyURL := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return proxyURL(req.URL)
	}
}
