package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestImageLoader_Load(t *testing.T) {
	png := []byte("\x89PNG fake bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(png)
		case "/odd":
			w.Header().Set("Content-Type", "image/tiff")
			_, _ = w.Write(png)
		case "/empty":
			w.Header().Set("Content-Type", "image/png")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	loader := ImageLoader{Client: srv.Client()}
	bare := strings.Repeat("QUJD", 30)

	tests := []struct {
		name     string
		ref      string
		wantMIME string
		wantErr  bool
	}{
		{"data uri", "data:image/png;base64,QUJD", "image/png", false},
		{"data uri uppercase mime", "data:IMAGE/WEBP;base64,QUJD", "image/webp", false},
		{"data uri unsupported mime", "data:image/bmp;base64,QUJD", "image/jpeg", false},
		{"data uri empty payload", "data:image/png;base64,", "", true},
		{"http fetch", srv.URL + "/ok.png", "image/png", false},
		{"http unsupported type", srv.URL + "/odd", "image/jpeg", false},
		{"http empty body", srv.URL + "/empty", "", true},
		{"http 404", srv.URL + "/missing", "", true},
		{"bare base64", bare, "image/jpeg", false},
		{"short text", "a cat", "", true},
		{"long text with spaces", strings.Repeat("not base64 ", 20), "", true},
		{"empty", "  ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := loader.Load(context.Background(), tt.ref)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidImage) {
					t.Fatalf("err = %v, want ErrInvalidImage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if img.MIMEType != tt.wantMIME {
				t.Errorf("MIMEType = %q, want %q", img.MIMEType, tt.wantMIME)
			}
			if len(img.Data) == 0 {
				t.Error("no image data")
			}
		})
	}
}

func TestImageLoader_LoadAll(t *testing.T) {
	refs := []string{"data:image/png;base64,QUJD", "hello", "data:image/gif;base64,R0lG"}
	images, dropped := ImageLoader{}.LoadAll(context.Background(), refs)
	if len(images) != 2 || len(dropped) != 1 {
		t.Fatalf("loaded %d, dropped %d; want 2, 1", len(images), len(dropped))
	}
	if images[1].MIMEType != "image/gif" {
		t.Errorf("order not preserved: %q", images[1].MIMEType)
	}
}

func TestImage_DataURI(t *testing.T) {
	img := Image{MIMEType: "image/png", Data: []byte("ABC")}
	if got := img.DataURI(); got != "data:image/png;base64,QUJD" {
		t.Errorf("DataURI = %q", got)
	}
	back, err := DecodeDataURI(img.DataURI())
	if err != nil || string(back.Data) != "ABC" {
		t.Errorf("DecodeDataURI = %q, %v", back.Data, err)
	}
}

func TestNormalizeImageMIME(t *testing.T) {
	tests := map[string]string{
		"image/png":                 "image/png",
		"image/jpeg; charset=utf-8": "image/jpeg",
		"Image/GIF":                 "image/gif",
		"application/octet-stream":  "image/jpeg",
		"":                          "image/jpeg",
	}
	for in, want := range tests {
		if got := NormalizeImageMIME(in); got != want {
			t.Errorf("NormalizeImageMIME(%q) = %q, want %q", in, got, want)
		}
	}
}
