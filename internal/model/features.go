package model

import (
	"strings"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
)

// Features flattens a request snapshot into the numeric vector shared by the
// local artifact and the HTTP scorer. Names are part of the artifact format;
// the external trainer emits weights keyed on them.
func Features(md core.RequestMetadata) map[string]float64 {
	f := map[string]float64{
		"ua_length":       float64(len(md.UserAgent)),
		"path_length":     float64(len(md.Path)),
		"path_depth":      float64(strings.Count(strings.Trim(md.Path, "/"), "/") + 1),
		"header_count":    float64(len(md.Headers)),
		"has_user_agent":  boolFeature(strings.TrimSpace(md.UserAgent) != ""),
		"has_referer":     boolFeature(md.Referer != ""),
		"has_accept_lang": boolFeature(md.Header("Accept-Language") != ""),
		"has_cookie":      boolFeature(md.Header("Cookie") != ""),
		"wildcard_accept": boolFeature(md.Header("Accept") == "*/*"),
	}
	if md.Path == "/" || md.Path == "" {
		f["path_depth"] = 0
	}
	return f
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
