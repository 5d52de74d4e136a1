package proxy

import "wayfare/pkg/model"

// Rewrite returns a copy of req carrying the proxy's configured
// headers and Proxy-Authorization, ready to be written in absolute
// form by the HTTP/1.1 engine. Forward proxying only applies to
// http:// destinations.
func Rewrite(req *model.Request, cfg Config) *model.Request {
	out := *req
	out.Header = req.Header.Clone()
	for _, f := range buildHeaderBlock(cfg.Headers, cfg.Auth) {
		out.Header = out.Header.Add(f.Name, f.Value)
	}
	return &out
}
