package web

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Zuberverse/metadj-soundscape/pkg/analysis"
	"github.com/Zuberverse/metadj-soundscape/pkg/mapping"
	"github.com/Zuberverse/metadj-soundscape/pkg/stream"
	"github.com/Zuberverse/metadj-soundscape/pkg/theme"
)

// testDeps returns a server over recording stubs.
type testDeps struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	tuning      theme.Tuning
	theme       string
	profile     string
}

func newTestServer(d *testDeps) *Server {
	d.tuning = theme.DefaultTuning()
	return NewServer(":0", Deps{
		Status: func() stream.Snapshot {
			return stream.Snapshot{State: stream.StateConnected, Status: "Streaming", SessionID: "sess-1"}
		},
		Connect: func() {
			d.mu.Lock()
			d.connects++
			d.mu.Unlock()
		},
		Disconnect: func() {
			d.mu.Lock()
			d.disconnects++
			d.mu.Unlock()
		},
		Analysis: func() analysis.State {
			return analysis.State{Derived: analysis.Derived{Energy: 0.42}}
		},
		Parameters: func() mapping.GenerationParameters {
			return mapping.GenerationParameters{
				Prompts:             []mapping.PromptEntry{{Text: "a city", Weight: 1}},
				DenoisingSteps:      []int{600, 700, 800},
				NoiseScale:          0.3,
				InterpolationMethod: mapping.InterpLinear,
			}
		},
		Tuning: func() theme.Tuning {
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.tuning
		},
		SetTuning: func(t theme.Tuning) {
			d.mu.Lock()
			d.tuning = t.Clamp()
			d.mu.Unlock()
		},
		Themes: theme.Catalog,
		SelectTheme: func(id string) error {
			if _, ok := theme.ByID(id); !ok {
				return errUnknown("theme", id)
			}
			d.mu.Lock()
			d.theme = id
			d.mu.Unlock()
			return nil
		},
		Profiles: theme.ProfileNames,
		SelectProfile: func(name string) error {
			if _, ok := theme.ProfileByName(name); !ok {
				return errUnknown("profile", name)
			}
			d.mu.Lock()
			d.profile = name
			d.mu.Unlock()
			return nil
		},
	})
}

type errUnknownT struct{ kind, name string }

func (e errUnknownT) Error() string { return "unknown " + e.kind + " " + e.name }

func errUnknown(kind, name string) error { return errUnknownT{kind, name} }

func doJSON(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		json.Unmarshal(data, &out)
	}
	return resp.StatusCode, out
}

func TestServer_Status(t *testing.T) {
	s := newTestServer(&testDeps{})
	code, body := doJSON(t, s, http.MethodGet, "/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["state"] != "connected" || body["session_id"] != "sess-1" {
		t.Errorf("body = %v", body)
	}
}

func TestServer_ConnectDisconnect(t *testing.T) {
	d := &testDeps{}
	s := newTestServer(d)

	if code, _ := doJSON(t, s, http.MethodPost, "/api/connect", ""); code != http.StatusOK {
		t.Fatalf("connect status = %d", code)
	}
	if code, _ := doJSON(t, s, http.MethodPost, "/api/disconnect", ""); code != http.StatusOK {
		t.Fatalf("disconnect status = %d", code)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connects != 1 || d.disconnects != 1 {
		t.Errorf("connects=%d disconnects=%d", d.connects, d.disconnects)
	}
}

func TestServer_TuningRoundTrip(t *testing.T) {
	d := &testDeps{}
	s := newTestServer(d)

	code, body := doJSON(t, s, http.MethodGet, "/api/tuning", "")
	if code != http.StatusOK || body["bounds"] == nil {
		t.Fatalf("get tuning: %d %v", code, body)
	}

	// Out-of-bound input comes back clamped.
	code, body = doJSON(t, s, http.MethodPut, "/api/tuning",
		`{"beat_boost":99,"spike_boost":1,"spike_variation_blend":0.5,"tempo_motion_bias":1,"noise_ceiling":0.7}`)
	if code != http.StatusOK {
		t.Fatalf("put tuning status = %d", code)
	}
	effective := body["tuning"].(map[string]any)
	if effective["beat_boost"].(float64) != 3 {
		t.Errorf("echoed beat_boost = %v, want clamped 3", effective["beat_boost"])
	}

	if code, _ := doJSON(t, s, http.MethodPut, "/api/tuning", `{broken`); code != http.StatusBadRequest {
		t.Errorf("malformed tuning status = %d", code)
	}
}

func TestServer_ThemeSelection(t *testing.T) {
	d := &testDeps{}
	s := newTestServer(d)

	code, body := doJSON(t, s, http.MethodGet, "/api/themes", "")
	if code != http.StatusOK {
		t.Fatalf("themes status = %d", code)
	}
	if themes := body["themes"].([]any); len(themes) != 3 {
		t.Errorf("themes = %d", len(themes))
	}

	if code, _ := doJSON(t, s, http.MethodPost, "/api/themes/deep-forest", ""); code != http.StatusOK {
		t.Fatalf("select theme status = %d", code)
	}
	d.mu.Lock()
	selected := d.theme
	d.mu.Unlock()
	if selected != "deep-forest" {
		t.Errorf("selected theme = %q", selected)
	}

	if code, _ := doJSON(t, s, http.MethodPost, "/api/themes/nope", ""); code != http.StatusNotFound {
		t.Errorf("unknown theme status = %d", code)
	}
}

func TestServer_ProfileSelection(t *testing.T) {
	d := &testDeps{}
	s := newTestServer(d)

	code, body := doJSON(t, s, http.MethodGet, "/api/profiles", "")
	if code != http.StatusOK {
		t.Fatalf("profiles status = %d", code)
	}
	if profiles := body["profiles"].([]any); len(profiles) != 3 {
		t.Errorf("profiles = %v", profiles)
	}

	if code, _ := doJSON(t, s, http.MethodPost, "/api/profiles/punchy", ""); code != http.StatusOK {
		t.Fatalf("select profile status = %d", code)
	}
	if code, _ := doJSON(t, s, http.MethodPost, "/api/profiles/frantic", ""); code != http.StatusNotFound {
		t.Errorf("unknown profile status = %d", code)
	}
}

func TestServer_AnalysisAndParameters(t *testing.T) {
	s := newTestServer(&testDeps{})

	code, body := doJSON(t, s, http.MethodGet, "/api/analysis", "")
	if code != http.StatusOK {
		t.Fatalf("analysis status = %d", code)
	}
	derived := body["derived"].(map[string]any)
	if derived["energy"].(float64) != 0.42 {
		t.Errorf("analysis energy = %v", derived["energy"])
	}

	code, body = doJSON(t, s, http.MethodGet, "/api/parameters", "")
	if code != http.StatusOK || body["noise_scale"].(float64) != 0.3 {
		t.Errorf("parameters: %d %v", code, body)
	}
}

func TestServer_StatusWebSocketPush(t *testing.T) {
	s := newTestServer(&testDeps{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.App().Listener(ln)
	defer s.Shutdown()

	url := "ws://" + ln.Addr().String() + "/ws/status"
	var conn *websocket.Conn
	// The listener needs a moment to start accepting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Status struct {
			State string `json:"state"`
		} `json:"status"`
		Analysis struct {
			Derived struct {
				Energy float64 `json:"energy"`
			} `json:"derived"`
		} `json:"analysis"`
		Parameters struct {
			NoiseScale float64 `json:"noise_scale"`
		} `json:"parameters"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Status.State != "connected" {
		t.Errorf("pushed state = %q", frame.Status.State)
	}
	if frame.Analysis.Derived.Energy != 0.42 || frame.Parameters.NoiseScale != 0.3 {
		t.Errorf("pushed frame = %+v", frame)
	}

	// Frames keep coming on the cadence.
	if err := conn.ReadJSON(&frame); err != nil {
		t.Errorf("second push: %v", err)
	}
}

func TestServer_WSUpgradeRequired(t *testing.T) {
	s := newTestServer(&testDeps{})
	req := httptest.NewRequest(http.MethodGet, "/ws/status", nil)
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("plain GET on ws route = %d, want 426", resp.StatusCode)
	}
}
