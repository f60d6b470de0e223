package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/margolab/margo/internal/ai"
	"github.com/margolab/margo/internal/config"
	"github.com/margolab/margo/internal/models"
	"github.com/margolab/margo/internal/render"
	"github.com/margolab/margo/internal/viewer"
)

type fakeRaster struct{}

func (fakeRaster) SetDocument(b []byte) error { return nil }

func (fakeRaster) RenderPage(ctx context.Context, page int, scale float64) (*render.Raster, error) {
	return &render.Raster{Image: []byte("png-bytes"), Width: 800, Height: 1000}, nil
}

type fakeText struct{ pages int }

func (f fakeText) SetDocument(b []byte) error { return nil }
func (f fakeText) PageCount() int             { return f.pages }
func (f fakeText) PlainText(page int) (string, error) {
	return "", nil
}

func (f fakeText) PageText(ctx context.Context, page int, scale float64) ([]render.TextItem, error) {
	return []render.TextItem{{X: 10, Y: 20, Text: "hello"}}, nil
}

type fakeProvider struct{ resp string }

func (fakeProvider) Name() string { return "fake" }

func (f fakeProvider) Complete(ctx context.Context, req ai.Request) (*ai.Response, error) {
	return &ai.Response{Text: f.resp, Provider: "fake"}, nil
}

type fakeMarker struct{}

func (fakeMarker) Apply(src []byte, anns []models.Annotation) ([]byte, error) {
	return append([]byte("%PDF marked "), src...), nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	sess, err := viewer.New(viewer.Options{
		Logger: zap.NewNop(),
		Raster: fakeRaster{},
		Text:   fakeText{pages: 3},
		Marker: fakeMarker{},
		Backends: map[string]viewer.Backend{
			"fake": {Provider: fakeProvider{resp: "the answer"}, Model: "m"},
		},
		DefaultBackend: "fake",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sess.Close)

	srv := NewServer(sess, nil, nil, &config.ServerConfig{}, 4.0, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body interface{}, wantStatus int, out interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		var raw bytes.Buffer
		_, _ = raw.ReadFrom(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d; body: %s", method, url, resp.StatusCode, wantStatus, raw.String())
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
}

func loadDoc(t *testing.T, ts *httptest.Server) viewer.DocumentInfo {
	t.Helper()
	var info viewer.DocumentInfo
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/document", map[string]string{
		"name":       "paper.pdf",
		"dataBase64": base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 fake")),
	}, http.StatusCreated, &info)
	return info
}

func TestDocumentLifecycle(t *testing.T) {
	ts := newTestServer(t)

	var health map[string]string
	doJSON(t, http.MethodGet, ts.URL+"/health", nil, http.StatusOK, &health)
	if health["engine"] != "uninitialized" {
		t.Errorf("engine = %q", health["engine"])
	}

	// Document-scoped operations refuse before a load.
	doJSON(t, http.MethodPut, ts.URL+"/api/v1/mode", map[string]string{"mode": "ask"}, http.StatusServiceUnavailable, nil)
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/render/1", map[string]float64{"scale": 1}, http.StatusServiceUnavailable, nil)

	info := loadDoc(t, ts)
	if info.Pages != 3 || info.Phase != "ready" {
		t.Errorf("info = %+v", info)
	}

	doJSON(t, http.MethodGet, ts.URL+"/health", nil, http.StatusOK, &health)
	if health["engine"] != "ready" {
		t.Errorf("engine = %q", health["engine"])
	}
}

func TestModeValidation(t *testing.T) {
	ts := newTestServer(t)
	loadDoc(t, ts)

	doJSON(t, http.MethodPut, ts.URL+"/api/v1/mode", map[string]string{"mode": "crop"}, http.StatusOK, nil)
	var mode map[string]string
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/mode", nil, http.StatusOK, &mode)
	if mode["mode"] != "crop" {
		t.Errorf("mode = %q", mode["mode"])
	}
	doJSON(t, http.MethodPut, ts.URL+"/api/v1/mode", map[string]string{"mode": "paint"}, http.StatusBadRequest, nil)
}

func selectionBody() map[string]interface{} {
	return map[string]interface{}{
		"page":     2,
		"lines":    []map[string]float64{{"x": 100, "y": 100, "w": 300, "h": 20}},
		"bounds":   map[string]float64{"x": 100, "y": 100, "w": 300, "h": 20},
		"text":     "selected words",
		"pageSize": map[string]float64{"w": 800, "h": 1000},
	}
}

func TestAskFlow(t *testing.T) {
	ts := newTestServer(t)
	loadDoc(t, ts)
	doJSON(t, http.MethodPut, ts.URL+"/api/v1/mode", map[string]string{"mode": "ask"}, http.StatusOK, nil)

	var sel struct {
		Draft *models.Draft `json:"draft"`
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/selection/text", selectionBody(), http.StatusOK, &sel)
	if sel.Draft == nil || sel.Draft.Kind != models.KindTextHighlight {
		t.Fatalf("draft = %+v", sel.Draft)
	}

	doJSON(t, http.MethodPost, ts.URL+"/api/v1/draft/question",
		map[string]string{"question": "what is this?"}, http.StatusOK, nil)

	var ann models.Annotation
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/draft/ask", map[string]string{}, http.StatusCreated, &ann)
	if ann.Response != "the answer" || ann.Provider != "fake" {
		t.Errorf("annotation = %+v", ann)
	}

	// The draft is resolved; asking again conflicts.
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/draft/ask", map[string]string{}, http.StatusConflict, nil)

	var list struct {
		Annotations []models.Annotation `json:"annotations"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/annotations", nil, http.StatusOK, &list)
	if len(list.Annotations) != 1 {
		t.Errorf("annotations = %+v", list.Annotations)
	}

	doJSON(t, http.MethodGet, ts.URL+"/api/v1/annotations?page=1", nil, http.StatusOK, &list)
	if len(list.Annotations) != 0 {
		t.Errorf("page 1 annotations = %+v", list.Annotations)
	}
}

func TestAnnotationOps(t *testing.T) {
	ts := newTestServer(t)
	loadDoc(t, ts)

	doJSON(t, http.MethodPost, ts.URL+"/api/v1/pages/2/note", nil, http.StatusCreated, nil)
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/draft/note",
		map[string]string{"note": "the key theorem"}, http.StatusOK, nil)
	var ann models.Annotation
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/draft/confirm", nil, http.StatusCreated, &ann)

	doJSON(t, http.MethodPut, fmt.Sprintf("%s/api/v1/annotations/%s/note", ts.URL, ann.ID),
		map[string]string{"note": "revised theorem note"}, http.StatusOK, nil)

	var got models.Annotation
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/annotations/"+ann.ID, nil, http.StatusOK, &got)
	if got.Note != "revised theorem note" {
		t.Errorf("note = %q", got.Note)
	}

	var hits struct {
		Annotations []models.Annotation `json:"annotations"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/annotations/search?q=theorem", nil, http.StatusOK, &hits)
	if len(hits.Annotations) != 1 || hits.Annotations[0].ID != ann.ID {
		t.Errorf("search hits = %+v", hits.Annotations)
	}

	doJSON(t, http.MethodDelete, ts.URL+"/api/v1/annotations/"+ann.ID, nil, http.StatusOK, nil)
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/annotations/"+ann.ID, nil, http.StatusNotFound, nil)

	// Out-of-range page note.
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/pages/99/note", nil, http.StatusBadRequest, nil)
}

func TestRenderEndpoints(t *testing.T) {
	ts := newTestServer(t)
	loadDoc(t, ts)

	var accepted map[string]interface{}
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/render/1", map[string]float64{"scale": 2}, http.StatusAccepted, &accepted)

	deadline := time.Now().Add(3 * time.Second)
	var state map[string]interface{}
	for time.Now().Before(deadline) {
		doJSON(t, http.MethodGet, ts.URL+"/api/v1/render/1", nil, http.StatusOK, &state)
		if state["state"] == "rendered" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if state["state"] != "rendered" {
		t.Fatalf("state = %+v", state)
	}
	if state["scale"] != 2.0 || state["width"] != 800.0 {
		t.Errorf("state = %+v", state)
	}

	resp, err := http.Get(ts.URL + "/api/v1/render/1/image")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("image response: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	doJSON(t, http.MethodPost, ts.URL+"/api/v1/render/invalidate", nil, http.StatusOK, nil)
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/render/1", nil, http.StatusOK, &state)
	if state["state"] != "idle" {
		t.Errorf("state after invalidate = %v", state["state"])
	}
}

func TestViewportEndpoints(t *testing.T) {
	ts := newTestServer(t)
	loadDoc(t, ts)

	layout := map[string]interface{}{
		"extents": []map[string]float64{
			{"top": 0, "height": 1000},
			{"top": 1010, "height": 1000},
			{"top": 2020, "height": 1000},
		},
		"viewportHeight": 800,
	}
	var current map[string]int
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/viewport/layout", layout, http.StatusOK, &current)
	if current["currentPage"] != 1 {
		t.Errorf("current = %d", current["currentPage"])
	}

	doJSON(t, http.MethodPost, ts.URL+"/api/v1/viewport/scroll",
		map[string]float64{"offset": 1200}, http.StatusOK, &current)
	if current["currentPage"] != 2 {
		t.Errorf("current after scroll = %d", current["currentPage"])
	}

	var offset map[string]float64
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/viewport/scroll-to/page",
		map[string]int{"page": 3}, http.StatusOK, &offset)
	if offset["offset"] != 2020 {
		t.Errorf("offset = %v", offset["offset"])
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/viewport/scroll-to/page",
		map[string]int{"page": 9}, http.StatusBadRequest, nil)
}

func TestSessionRoundTripOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	loadDoc(t, ts)

	doJSON(t, http.MethodPost, ts.URL+"/api/v1/pages/1/note", nil, http.StatusCreated, nil)
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/draft/note",
		map[string]string{"note": "carried"}, http.StatusOK, nil)
	doJSON(t, http.MethodPost, ts.URL+"/api/v1/draft/confirm", nil, http.StatusCreated, nil)

	resp, err := http.Get(ts.URL + "/api/v1/session/export")
	if err != nil {
		t.Fatal(err)
	}
	var artifact bytes.Buffer
	_, _ = artifact.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}

	ts2 := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, ts2.URL+"/api/v1/session/import", &artifact)
	if err != nil {
		t.Fatal(err)
	}
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusCreated {
		t.Fatalf("import status = %d", resp2.StatusCode)
	}

	var list struct {
		Annotations []models.Annotation `json:"annotations"`
	}
	doJSON(t, http.MethodGet, ts2.URL+"/api/v1/annotations", nil, http.StatusOK, &list)
	if len(list.Annotations) != 1 || list.Annotations[0].Note != "carried" {
		t.Errorf("imported annotations = %+v", list.Annotations)
	}
}

func TestSessionImportInvalid(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/session/import",
		bytes.NewReader([]byte(`{"schemaVersion":1}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExportEndpoints(t *testing.T) {
	ts := newTestServer(t)
	loadDoc(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/export/pdf")
	if err != nil {
		t.Fatal(err)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/pdf" {
		t.Errorf("pdf export: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !bytes.HasPrefix(body.Bytes(), []byte("%PDF marked ")) {
		t.Errorf("pdf body = %q", body.String())
	}

	resp, err = http.Get(ts.URL + "/api/v1/export/xlsx")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("xlsx export status = %d", resp.StatusCode)
	}

	// Optional collaborators are off in this configuration.
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/history", nil, http.StatusNotImplemented, nil)
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/sessions", nil, http.StatusNotImplemented, nil)
}
