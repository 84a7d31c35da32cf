package clients

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adverant/nexus/faceredact-engine/internal/imaging"
)

func TestDetectFaces(t *testing.T) {
	var gotRequestID, gotFilename string
	var gotSize int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-ID")
		file, header, err := r.FormFile("imagen")
		if err != nil {
			http.Error(w, "missing imagen", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotSize = len(data)
		gotFilename = header.Filename

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detecciones":[{"bbox":[10,10,50,50],"confidence":0.99,"id":"face_1"}],"total_caras":1}`))
	}))
	defer server.Close()

	client := NewDetectorClient(server.URL + "/detectar_caras")
	ctx := WithRequestID(context.Background(), "req-123")

	resp, err := client.DetectFaces(ctx, &DetectRequest{ImageData: []byte("fake-image"), Filename: "foto.jpg"})
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}

	if gotRequestID != "req-123" {
		t.Errorf("expected X-Request-ID to be forwarded, got %q", gotRequestID)
	}
	if gotFilename != "foto.jpg" || gotSize != len("fake-image") {
		t.Errorf("unexpected upload %s (%d bytes)", gotFilename, gotSize)
	}
	if len(resp.Detections) != 1 || resp.TotalFaces != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	want := imaging.BBox{X1: 10, Y1: 10, X2: 50, Y2: 50}
	if resp.Detections[0].Box() != want || resp.Detections[0].ID != "face_1" {
		t.Errorf("unexpected detection %+v", resp.Detections[0])
	}
}

func TestDetectFacesNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewDetectorClient(server.URL)
	_, err := client.DetectFaces(context.Background(), &DetectRequest{ImageData: []byte("x")})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", statusErr.StatusCode)
	}
}

func TestClassifySendsBatchInOrder(t *testing.T) {
	var names []string
	var debug, threshold string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, fh := range r.MultipartForm.File["imagenes"] {
			names = append(names, fh.Filename)
		}
		debug = r.FormValue("debug")
		threshold = r.FormValue("umbral")
		w.Write([]byte(`[1, 0, true]`))
	}))
	defer server.Close()

	client := NewClassifierClient(server.URL)
	resp, err := client.Classify(context.Background(), &ClassifyRequest{
		Crops: []FilePart{
			{Filename: "cara_0.jpg", ContentType: "image/jpeg", Data: []byte("a")},
			{Filename: "cara_1.jpg", ContentType: "image/jpeg", Data: []byte("b")},
			{Filename: "cara_2.jpg", ContentType: "image/jpeg", Data: []byte("c")},
		},
		Threshold: 0.6,
	})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if len(names) != 3 || names[0] != "cara_0.jpg" || names[2] != "cara_2.jpg" {
		t.Errorf("crops not submitted in order: %v", names)
	}
	if debug != "" {
		t.Errorf("debug flag should be absent, got %q", debug)
	}
	if threshold != "0.6" {
		t.Errorf("expected umbral=0.6, got %q", threshold)
	}
	if len(resp.Flags) != 3 || !resp.Flags[0] || resp.Flags[1] || !resp.Flags[2] {
		t.Errorf("unexpected flags %v", resp.Flags)
	}
}

func TestParseClassifyResponse(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantFlags   []MinorFlag
		wantDetails int
		wantErr     bool
	}{
		{"bare array", `[0,1]`, []MinorFlag{false, true}, 0, false},
		{"debug object", `{"resultados":[1],"detalle":[{"imagen_id":"cara_0.jpg","probabilidad":0.91,"es_menor":true,"umbral":0.6}]}`, []MinorFlag{true}, 1, false},
		{"empty", ``, nil, 0, true},
		{"bad flag", `[2]`, nil, 0, true},
		{"html", `<html>`, nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseClassifyResponse([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(resp.Flags) != len(tt.wantFlags) {
				t.Fatalf("flags = %v, want %v", resp.Flags, tt.wantFlags)
			}
			for i := range tt.wantFlags {
				if resp.Flags[i] != tt.wantFlags[i] {
					t.Errorf("flag %d = %v, want %v", i, resp.Flags[i], tt.wantFlags[i])
				}
			}
			if len(resp.Details) != tt.wantDetails {
				t.Errorf("details = %d, want %d", len(resp.Details), tt.wantDetails)
			}
		})
	}
}

func TestPixelationClientSendsRectangles(t *testing.T) {
	var rects string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rects = r.FormValue("rectangulos")
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	client := NewPixelationClient(server.URL + "/pixelar")
	out, err := client.Pixelate(context.Background(), []byte("img"), "a.jpg", []imaging.Region{{X: 10, Y: 10, W: 40, H: 40}})
	if err != nil {
		t.Fatalf("Pixelate failed: %v", err)
	}
	if string(out) != "jpeg-bytes" {
		t.Errorf("unexpected body %q", out)
	}

	var got [][4]int
	if err := json.Unmarshal([]byte(rects), &got); err != nil {
		t.Fatalf("rectangulos not JSON: %v", err)
	}
	if len(got) != 1 || got[0] != [4]int{10, 10, 40, 40} {
		t.Errorf("unexpected rectangulos %v", got)
	}
}

func TestDecodeRectangles(t *testing.T) {
	regions, err := DecodeRectangles([]byte(`[[1,2,3,4],[5.9,6,7,8]]`))
	if err != nil {
		t.Fatalf("DecodeRectangles failed: %v", err)
	}
	if len(regions) != 2 || regions[1].X != 5 {
		t.Errorf("unexpected regions %v", regions)
	}

	for _, bad := range []string{`{}`, `[[1,2,3]]`, `[["a",1,2,3]]`, `[1,2,3,4]`, `nope`} {
		if _, err := DecodeRectangles([]byte(bad)); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}
}

func TestServiceRoot(t *testing.T) {
	if got := serviceRoot("http://bounding:5001/detectar_caras?x=1"); got != "http://bounding:5001/" {
		t.Errorf("unexpected root %s", got)
	}
}
