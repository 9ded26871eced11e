package browser

import (
	"net/url"
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestShouldBlock(t *testing.T) {
	tests := []struct {
		name         string
		resourceType proto.NetworkResourceType
		url          string
		want         bool
	}{
		{"document passes", proto.NetworkResourceTypeDocument, "https://example.com/", false},
		{"script passes", proto.NetworkResourceTypeScript, "https://example.com/app.js", false},
		{"xhr passes", proto.NetworkResourceTypeXHR, "https://example.com/api", false},
		{"image blocked", proto.NetworkResourceTypeImage, "https://example.com/logo.png", true},
		{"stylesheet blocked", proto.NetworkResourceTypeStylesheet, "https://cdn.example.com/site.css", true},
		{"font blocked", proto.NetworkResourceTypeFont, "https://fonts.example.com/a.woff2", true},
		{"media blocked", proto.NetworkResourceTypeMedia, "https://example.com/v.mp4", true},
		{"recaptcha image allowed", proto.NetworkResourceTypeImage, "https://www.google.com/recaptcha/api2/payload?p=1", false},
		{"gstatic recaptcha css allowed", proto.NetworkResourceTypeStylesheet, "https://www.gstatic.com/recaptcha/releases/x/styles.css", false},
		{"recaptcha.net allowed", proto.NetworkResourceTypeImage, "https://recaptcha.net/recaptcha/api2/payload", false},
		{"other google image blocked", proto.NetworkResourceTypeImage, "https://www.google.com/images/logo.png", true},
		{"lookalike host blocked", proto.NetworkResourceTypeImage, "https://evilgoogle.com/recaptcha/x.png", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatalf("parse %q: %v", tt.url, err)
			}
			if got := shouldBlock(tt.resourceType, u); got != tt.want {
				t.Errorf("shouldBlock(%s, %s) = %v, want %v", tt.resourceType, tt.url, got, tt.want)
			}
		})
	}
}
