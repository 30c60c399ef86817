// Package csp holds the CSP vocabulary: the closed directive set, the
// source-expression normalizer and the URL strip helpers shared by the
// policy builder and the report pipeline.
package csp

// Known CSP directives. Values not in this set never reach a rendered
// header.
const (
	BaseURI        = "base-uri"
	ChildSrc       = "child-src"
	ConnectSrc     = "connect-src"
	DefaultSrc     = "default-src"
	FontSrc        = "font-src"
	FormAction     = "form-action"
	FrameAncestors = "frame-ancestors"
	FrameSrc       = "frame-src"
	ImgSrc         = "img-src"
	ManifestSrc    = "manifest-src"
	MediaSrc       = "media-src"
	ObjectSrc      = "object-src"
	ReportTo       = "report-to"
	ReportURI      = "report-uri"
	ScriptSrc      = "script-src"
	ScriptSrcAttr  = "script-src-attr"
	ScriptSrcElem  = "script-src-elem"
	StyleSrc       = "style-src"
	StyleSrcAttr   = "style-src-attr"
	StyleSrcElem   = "style-src-elem"
	WorkerSrc      = "worker-src"
)

// Directives lists every directive this service recognises.
var Directives = []string{
	BaseURI,
	ChildSrc,
	ConnectSrc,
	DefaultSrc,
	FontSrc,
	FormAction,
	FrameAncestors,
	FrameSrc,
	ImgSrc,
	ManifestSrc,
	MediaSrc,
	ObjectSrc,
	ReportTo,
	ReportURI,
	ScriptSrc,
	ScriptSrcAttr,
	ScriptSrcElem,
	StyleSrc,
	StyleSrcAttr,
	StyleSrcElem,
	WorkerSrc,
}

var directiveSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Directives))
	for _, d := range Directives {
		m[d] = struct{}{}
	}
	return m
}()

// ValidDirective reports whether d is a recognised CSP directive.
func ValidDirective(d string) bool {
	_, ok := directiveSet[d]
	return ok
}
