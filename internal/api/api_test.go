package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/ollamaup/internal/install"
	"github.com/kalambet/ollamaup/internal/models"
	"github.com/kalambet/ollamaup/internal/panel"
	"github.com/kalambet/ollamaup/internal/provision"
	"github.com/kalambet/ollamaup/internal/storage"
)

const testToken = "test-token"

// --- fakes ---

type fakeStatus struct{}

func (fakeStatus) Snapshot(_ context.Context, names []string) models.Snapshot {
	st := make(map[string]models.ModelStatus)
	for _, n := range names {
		st[models.Canonical(n)] = models.ModelMissing
	}
	return models.Snapshot{ServerStatus: models.ServerStarted, ModelStatuses: st}
}

type fakeServer struct {
	mu       sync.Mutex
	modes    []install.Mode
	rechecks int
}

func (f *fakeServer) Modes() []install.ModeInfo {
	return []install.ModeInfo{{ID: install.ModeManual, Label: "Download"}}
}

func (f *fakeServer) InstallServer(_ context.Context, mode install.Mode) error {
	if mode != install.ModeManual {
		return install.ErrUnknownMode
	}
	f.mu.Lock()
	f.modes = append(f.modes, mode)
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) Recheck() bool {
	f.mu.Lock()
	f.rechecks++
	f.mu.Unlock()
	return true
}

type fakeProvisioner struct {
	err   error
	block chan struct{}
}

func (f *fakeProvisioner) Provision(ctx context.Context, sel provision.Selections, onProgress func(models.ProgressEvent)) error {
	for _, name := range sel.Models() {
		onProgress(models.ProgressEvent{Key: models.Canonical(name), Status: "pulling manifest"})
	}
	if f.block != nil {
		close(f.block)
		<-ctx.Done()
		return install.ErrCancelled
	}
	return f.err
}

type fakeCatalog map[string]models.Info

func (f fakeCatalog) RemoteInfo(_ context.Context, id string) (models.Info, bool) {
	info, ok := f[models.Canonical(id)]
	return info, ok
}

type fakeHistory struct {
	runs  []storage.Run
	limit int
}

func (f *fakeHistory) RecentRuns(limit int) ([]storage.Run, error) {
	f.limit = limit
	return f.runs, nil
}

// --- helpers ---

func newTestPanel(prov panel.Provisioner) (*panel.Panel, *fakeServer) {
	srv := &fakeServer{}
	p := panel.New(fakeStatus{}, srv, prov, panel.Options{
		Models:   []string{"granite3.3:8b"},
		Endpoint: "http://localhost:11434",
		Debounce: -1,
	})
	return p, srv
}

func newTestServer(t *testing.T, deps AppDeps) *httptest.Server {
	t.Helper()
	if deps.Token == "" {
		deps.Token = testToken
	}
	ts := httptest.NewServer(NewAppHandler(deps))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != "" {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// --- tests ---

func TestHealth_NoAuth(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuth_Required(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Error.Type != "authentication_error" {
		t.Errorf("error type = %q", body.Error.Type)
	}
}

func TestAuth_QueryToken(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	resp, err := http.Get(ts.URL + "/api/status?token=" + testToken)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	resp := do(t, http.MethodGet, ts.URL+"/api/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snap models.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.ServerStatus != models.ServerStarted {
		t.Errorf("ServerStatus = %s", snap.ServerStatus)
	}
	if snap.ModelStatuses["granite3.3:8b"] != models.ModelMissing {
		t.Errorf("ModelStatuses = %v", snap.ModelStatuses)
	}
}

func TestInit(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	resp := do(t, http.MethodGet, ts.URL+"/api/init", "")
	var data panel.InitData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatal(err)
	}
	if len(data.InstallModes) != 1 || data.InstallModes[0].ID != install.ModeManual {
		t.Errorf("InstallModes = %v", data.InstallModes)
	}
	if data.System.Endpoint != "http://localhost:11434" {
		t.Errorf("Endpoint = %q", data.System.Endpoint)
	}
}

func TestInstallServer(t *testing.T) {
	p, srv := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	resp := do(t, http.MethodPost, ts.URL+"/api/server/install", `{"mode":"manual"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	if len(srv.modes) != 1 {
		t.Errorf("installs = %v", srv.modes)
	}

	resp = do(t, http.MethodPost, ts.URL+"/api/server/install", `{"mode":"bogus"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown mode status = %d, want 400", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, ts.URL+"/api/server/install", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", resp.StatusCode)
	}
}

func TestRecheck(t *testing.T) {
	p, srv := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	resp := do(t, http.MethodPost, ts.URL+"/api/server/recheck", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if srv.rechecks != 1 {
		t.Errorf("rechecks = %d, want 1", srv.rechecks)
	}
}

func readNDJSON(t *testing.T, resp *http.Response) []panel.Inbound {
	t.Helper()
	var msgs []panel.Inbound
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var m panel.Inbound
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Errorf("bad line %q: %v", sc.Text(), err)
			return msgs
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func TestSetup_StreamsMessages(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	resp := do(t, http.MethodPost, ts.URL+"/api/setup", `{"chatModelId":"granite3.3:8b","tabModelId":"granite3.3:2b"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	msgs := readNDJSON(t, resp)
	want := []string{
		panel.MsgPageUpdate,
		panel.MsgPullProgress,
		panel.MsgPullProgress,
		panel.MsgPageUpdate,
		panel.MsgSetupResult,
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Command != w {
			t.Errorf("message %d = %q, want %q", i, msgs[i].Command, w)
		}
	}

	var result panel.SetupResult
	json.Unmarshal(msgs[len(msgs)-1].Data, &result)
	if result.Outcome != provision.OutcomeSuccess {
		t.Errorf("Outcome = %q", result.Outcome)
	}
}

func TestSetup_ErrorResult(t *testing.T) {
	prov := &fakeProvisioner{err: &provision.ModelError{Model: "granite3.3:8b", Err: errors.New("disk full")}}
	p, _ := newTestPanel(prov)
	ts := newTestServer(t, AppDeps{Panel: p})

	resp := do(t, http.MethodPost, ts.URL+"/api/setup", `{"chatModelId":"granite3.3:8b"}`)
	msgs := readNDJSON(t, resp)
	if len(msgs) == 0 {
		t.Fatal("no messages")
	}
	var result panel.SetupResult
	json.Unmarshal(msgs[len(msgs)-1].Data, &result)
	if result.Outcome != provision.OutcomeError || result.Model != "granite3.3:8b" {
		t.Errorf("result = %+v", result)
	}
}

func TestSetup_Validation(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	if resp := do(t, http.MethodPost, ts.URL+"/api/setup", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty selection status = %d, want 400", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, ts.URL+"/api/setup", `{`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", resp.StatusCode)
	}
}

func TestSetup_ConflictAndCancel(t *testing.T) {
	prov := &fakeProvisioner{block: make(chan struct{})}
	p, _ := newTestPanel(prov)
	ts := newTestServer(t, AppDeps{Panel: p})

	done := make(chan []panel.Inbound)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/setup", strings.NewReader(`{"chatModelId":"granite3.3:8b"}`))
		req.Header.Set("Authorization", "Bearer "+testToken)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- nil
			return
		}
		defer resp.Body.Close()
		done <- readNDJSON(t, resp)
	}()

	select {
	case <-prov.block:
	case <-time.After(2 * time.Second):
		t.Fatal("setup never started")
	}

	if resp := do(t, http.MethodPost, ts.URL+"/api/setup", `{"chatModelId":"granite3.3:8b"}`); resp.StatusCode != http.StatusConflict {
		t.Errorf("second setup status = %d, want 409", resp.StatusCode)
	}

	resp := do(t, http.MethodDelete, ts.URL+"/api/setup", "")
	var body map[string]bool
	json.NewDecoder(resp.Body).Decode(&body)
	if !body["cancelled"] {
		t.Errorf("cancel response = %v", body)
	}

	select {
	case msgs := <-done:
		if len(msgs) == 0 {
			t.Fatal("no messages from cancelled setup")
		}
		var result panel.SetupResult
		json.Unmarshal(msgs[len(msgs)-1].Data, &result)
		if result.Outcome != provision.OutcomeCancelled {
			t.Errorf("Outcome = %q, want cancelled", result.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("setup did not end after cancel")
	}
}

func TestModelInfo(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	cat := fakeCatalog{"library/m:7b": {ID: "library/m:7b", Size: "4.1GB", Digest: "abc123"}}
	ts := newTestServer(t, AppDeps{Panel: p, Catalog: cat})

	resp := do(t, http.MethodGet, ts.URL+"/api/models/library%2Fm:7b/info", "")
	var info models.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Size != "4.1GB" || info.Digest != "abc123" {
		t.Errorf("info = %+v", info)
	}
}

func TestHistory(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	hist := &fakeHistory{runs: []storage.Run{{
		ID:        "run-1",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Models:    []string{"granite3.3:8b"},
		Outcome:   storage.OutcomeSuccess,
	}}}
	ts := newTestServer(t, AppDeps{Panel: p, History: hist})

	resp := do(t, http.MethodGet, ts.URL+"/api/history?limit=5", "")
	var runs []runResponse
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if hist.limit != 5 {
		t.Errorf("limit = %d, want 5", hist.limit)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" || runs[0].FinishedAt != "" {
		t.Errorf("runs = %+v", runs)
	}

	if resp := do(t, http.MethodGet, ts.URL+"/api/history?limit=0", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", resp.StatusCode)
	}
}

func TestHistory_Disabled(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	if resp := do(t, http.MethodGet, ts.URL+"/api/history", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips pushed status messages until command arrives.
func readUntil(t *testing.T, conn *websocket.Conn, command string) panel.Inbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg panel.Inbound
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", command, err)
		}
		if msg.Command == command {
			return msg
		}
	}
}

func TestWebSocket_PushesStatusAndAnswersInit(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p, PollInterval: time.Hour})
	conn := dialWS(t, ts)

	msg := readUntil(t, conn, panel.MsgStatus)
	var snap models.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.ServerStatus != models.ServerStarted {
		t.Errorf("ServerStatus = %s", snap.ServerStatus)
	}

	if err := conn.WriteJSON(panel.Message{Command: panel.CmdInit}); err != nil {
		t.Fatal(err)
	}
	msg = readUntil(t, conn, panel.MsgInit)
	var data panel.InitData
	json.Unmarshal(msg.Data, &data)
	if len(data.InstallModes) != 1 {
		t.Errorf("InstallModes = %v", data.InstallModes)
	}
}

func TestWebSocket_Setup(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p, PollInterval: time.Hour})
	conn := dialWS(t, ts)

	err := conn.WriteJSON(panel.Message{
		Command: panel.CmdSetup,
		Data:    provision.Selections{Chat: "granite3.3:8b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, conn, panel.MsgSetupResult)
	var result panel.SetupResult
	json.Unmarshal(msg.Data, &result)
	if result.Outcome != provision.OutcomeSuccess {
		t.Errorf("Outcome = %q", result.Outcome)
	}
}

func TestWebSocket_UnknownCommand(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p, PollInterval: time.Hour})
	conn := dialWS(t, ts)

	if err := conn.WriteJSON(panel.Message{Command: "bogus"}); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, conn, panel.MsgError)
	var body wsError
	json.Unmarshal(msg.Data, &body)
	if body.Command != "bogus" || body.Message == "" {
		t.Errorf("error = %+v", body)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	p, _ := newTestPanel(&fakeProvisioner{})
	ts := newTestServer(t, AppDeps{Panel: p})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %v, want 401", resp)
	}
}
