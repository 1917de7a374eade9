package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/companion/internal/config"
	"github.com/stellarlinkco/companion/internal/gateway"
	"github.com/stellarlinkco/companion/internal/store"
	"github.com/stellarlinkco/companion/internal/supervisor"
)

type stubProcess struct {
	pid  int
	done chan struct{}
	once sync.Once
}

func (p *stubProcess) PID() int              { return p.pid }
func (p *stubProcess) Done() <-chan struct{} { return p.done }
func (p *stubProcess) Err() error            { return nil }
func (p *stubProcess) stop()                 { p.once.Do(func() { close(p.done) }) }

func (p *stubProcess) Signal(os.Signal) error {
	p.stop()
	return nil
}

func (p *stubProcess) Kill() error {
	p.stop()
	return nil
}

type stubLauncher struct {
	mu       sync.Mutex
	launched []string
	procs    []*stubProcess
}

func (l *stubLauncher) Launch(_ string, spec supervisor.ServiceSpec) (supervisor.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &stubProcess{pid: 1000 + len(l.procs), done: make(chan struct{})}
	l.launched = append(l.launched, spec.Name)
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *stubLauncher) Launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.launched...)
}

type stubResolver struct{ err error }

func (r stubResolver) Resolve(_ context.Context, candidates, _ []string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return candidates[0], nil
}

// backend fakes both the gateway and the inference health endpoint.
type backend struct {
	mu        sync.Mutex
	asks      []gateway.AskRequest
	resets    []gateway.ResetRequest
	askStatus int
	down      bool
}

func (b *backend) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		switch r.URL.Path {
		case "/health", "/inference/health":
			if b.down {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		case "/ask":
			var req gateway.AskRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode ask: %v", err)
			}
			b.asks = append(b.asks, req)
			if b.askStatus != 0 {
				w.WriteHeader(b.askStatus)
				_, _ = w.Write([]byte("boom"))
				return
			}
			_, _ = fmt.Fprintf(w, `{"answer":"echo: %s"}`, req.Question)
		case "/reset":
			var req gateway.ResetRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			b.resets = append(b.resets, req)
			if b.down {
				w.WriteHeader(http.StatusBadGateway)
			}
		case "/save-character":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	})
}

func (b *backend) Asks() []gateway.AskRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]gateway.AskRequest(nil), b.asks...)
}

func (b *backend) Resets() []gateway.ResetRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]gateway.ResetRequest(nil), b.resets...)
}

func (b *backend) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

type fixture struct {
	app      *App
	cfg      *config.Config
	backend  *backend
	launcher *stubLauncher
	server   *httptest.Server
}

func newFixture(t *testing.T, mutate ...func(*config.Config, *Options)) *fixture {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	b := &backend{}
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.DataRoot = filepath.Join(t.TempDir(), "data")
	cfg.Gateway.BaseURL = srv.URL
	cfg.Inference.HealthURL = srv.URL + "/inference/health"
	cfg.Startup.InitialIntervalMs = 1
	cfg.Startup.MaxIntervalMs = 5
	cfg.Startup.TimeoutMs = 500
	cfg.Chat.MemoryLimit = 3

	l := &stubLauncher{}
	opts := Options{Launcher: l, Resolver: stubResolver{}}
	for _, m := range mutate {
		m(cfg, &opts)
	}

	a, err := NewWithOptions(cfg, opts)
	require.NoError(t, err)
	return &fixture{app: a, cfg: cfg, backend: b, launcher: l, server: srv}
}

func (f *fixture) seedCharacter(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.app.UpdateCharacter(store.Character{ID: id, Name: strings.ToUpper(id), Img: store.PlaceholderImage}))
}

func TestNewWithOptions_NilConfig(t *testing.T) {
	_, err := NewWithOptions(nil, Options{})
	assert.Error(t, err)
}

func TestNewWithOptions_InitialisesDataRoot(t *testing.T) {
	f := newFixture(t)

	for _, p := range []string{"characters.json", "personas.json", "history", "assets/characters", "assets/personas"} {
		_, err := os.Stat(filepath.Join(f.cfg.DataRoot, p))
		assert.NoError(t, err, p)
	}
	chars, err := f.app.LoadCharacters()
	require.NoError(t, err)
	assert.Empty(t, chars)
}

func TestStartServices(t *testing.T) {
	f := newFixture(t)

	msg, err := f.app.StartServices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "services started", msg)
	assert.Equal(t, []string{config.ServiceInference, config.ServiceGateway}, f.launcher.Launched())

	msg, err = f.app.StartServices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "services already running", msg)
	assert.Len(t, f.launcher.Launched(), 2)

	for _, st := range f.app.ServiceStates() {
		assert.Equal(t, supervisor.Ready, st.State, st.Name)
	}
}

func TestStartServices_DisabledServiceSkipped(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Options) {
		cfg.Services.Inference.Disabled = true
	})

	_, err := f.app.StartServices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{config.ServiceGateway}, f.launcher.Launched())
}

func TestStartServices_Timeout(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Options) {
		cfg.Startup.TimeoutMs = 30
	})
	f.backend.setDown(true)

	_, err := f.app.StartServices(context.Background())
	assert.ErrorIs(t, err, supervisor.ErrStartupTimeout)
	assert.Equal(t, []string{config.ServiceInference}, f.launcher.Launched())
}

func TestCheckServices(t *testing.T) {
	f := newFixture(t)

	report := f.app.CheckServices(context.Background())
	assert.Equal(t, "inference engine: operational\ngateway: operational", report)
	assert.Equal(t, "services operational", f.app.CheckServicesStatus(context.Background()))

	f.backend.setDown(true)

	report = f.app.CheckServices(context.Background())
	lines := strings.Split(report, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "inference engine: unhealthy (HTTP 503)", lines[0])
	assert.Equal(t, "services unavailable", f.app.CheckServicesStatus(context.Background()))
}

func TestChatWithCharacter(t *testing.T) {
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, func(_ *config.Config, o *Options) {
		o.Clock = func() time.Time { return clock }
	})
	f.seedCharacter(t, "aria")
	require.NoError(t, f.app.store.WriteHistory("aria", "me", []store.ChatMessage{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}))

	answer, err := f.app.ChatWithCharacter(context.Background(), "aria", "me", "  four  ")
	require.NoError(t, err)
	assert.Equal(t, "echo: four", answer)

	asks := f.backend.Asks()
	require.Len(t, asks, 1)
	ask := asks[0]
	assert.Equal(t, "four", ask.Question)
	assert.Equal(t, "aria", ask.CharacterID)
	assert.Equal(t, "me", ask.UserID)
	assert.Equal(t, config.DefaultChatModel, ask.Model)
	require.Len(t, ask.Memory, 3)
	assert.Equal(t, "two", ask.Memory[0].Content)
	assert.Equal(t, "four", ask.Memory[2].Content)

	history, err := f.app.LoadChatHistory("aria", "me")
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, store.ChatMessage{Role: "user", Content: "four", Timestamp: "2024-05-01T12:00:00Z"}, history[3])
	assert.Equal(t, "assistant", history[4].Role)
	assert.Equal(t, "echo: four", history[4].Content)

	recent, err := f.app.LoadRecentChats()
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "ARIA", recent[0].CharacterName)
	assert.Equal(t, clock, recent[0].LastUsed)
}

func TestChatWithCharacter_GatewayFailureKeepsQuestion(t *testing.T) {
	f := newFixture(t)
	f.seedCharacter(t, "aria")
	f.backend.askStatus = http.StatusInternalServerError

	_, err := f.app.ChatWithCharacter(context.Background(), "aria", "me", "hello")
	var statusErr *gateway.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "boom", statusErr.Body)

	history, err := f.app.LoadChatHistory("aria", "me")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
}

func TestChatWithCharacter_UnknownCharacter(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.ChatWithCharacter(context.Background(), "ghost", "me", "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.backend.Asks())
}

func TestChatWithCharacter_EmptyMessage(t *testing.T) {
	f := newFixture(t)
	f.seedCharacter(t, "aria")

	_, err := f.app.ChatWithCharacter(context.Background(), "aria", "me", "   ")
	assert.Error(t, err)
	assert.Empty(t, f.backend.Asks())
}

func TestAskQuestion_DefaultsModel(t *testing.T) {
	f := newFixture(t)

	resp, err := f.app.AskQuestion(context.Background(), gateway.AskRequest{Question: "hi", CharacterID: "aria", UserID: "me"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", resp.Answer)
	assert.Equal(t, config.DefaultChatModel, f.backend.Asks()[0].Model)

	_, err = f.app.AskQuestion(context.Background(), gateway.AskRequest{Question: "hi", Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "llama3", f.backend.Asks()[1].Model)
}

func TestResetConversation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.store.WriteHistory("aria", "me", []store.ChatMessage{{Role: "user", Content: "hi"}}))

	ack, err := f.app.ResetConversation(context.Background(), "aria", "me")
	require.NoError(t, err)
	assert.Equal(t, "conversation reset", ack)
	assert.Equal(t, []gateway.ResetRequest{{UserID: "me", CharacterID: "aria"}}, f.backend.Resets())

	history, err := f.app.LoadChatHistory("aria", "me")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestResetConversation_GatewayFailureKeepsHistory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.store.WriteHistory("aria", "me", []store.ChatMessage{{Role: "user", Content: "hi"}}))
	f.backend.setDown(true)

	_, err := f.app.ResetConversation(context.Background(), "aria", "me")
	assert.ErrorIs(t, err, gateway.ErrGateway)

	history, err := f.app.LoadChatHistory("aria", "me")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCharacterLifecycle(t *testing.T) {
	f := newFixture(t)

	ref, err := f.app.CopyImageToPath("aria.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "/assets/characters/aria.png", ref)

	require.NoError(t, f.app.UpdateCharacter(store.Character{ID: "aria", Name: "Aria", Img: ref}))
	require.NoError(t, f.app.store.WriteHistory("aria", "me", []store.ChatMessage{{Role: "user", Content: "hi"}}))

	got, err := f.app.LoadCharacterByID("aria")
	require.NoError(t, err)
	assert.Equal(t, "Aria", got.Name)

	ack, err := f.app.SaveCharacter(context.Background(), *got)
	require.NoError(t, err)
	assert.Equal(t, "character saved", ack)

	report, err := f.app.DeleteCharacter("aria")
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.True(t, report.Image.Removed)
	assert.Equal(t, 1, report.HistoriesRemoved())

	_, err = f.app.LoadCharacterByID("aria")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPersonaLifecycle(t *testing.T) {
	f := newFixture(t)

	ref, err := f.app.CopyImageToPersona("me.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "/assets/personas/me.png", ref)

	require.NoError(t, f.app.SavePersona(store.Persona{ID: "me", DisplayName: "Me", Img: ref}))
	require.NoError(t, f.app.UpdatePersona(store.Persona{ID: "me", DisplayName: "Still me", Img: ref}))

	personas, err := f.app.LoadPersonas()
	require.NoError(t, err)
	require.Len(t, personas, 1)
	assert.Equal(t, "Still me", personas[0].DisplayName)

	got, err := f.app.LoadPersonaByID("me")
	require.NoError(t, err)
	assert.Equal(t, ref, got.Img)

	_, err = f.app.DeletePersona("me")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.cfg.DataRoot, "assets", "personas", "me.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteChatHistory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.store.WriteHistory("aria", "me", []store.ChatMessage{{Role: "user", Content: "hi"}}))

	require.NoError(t, f.app.DeleteChatHistory("aria", "me"))
	require.NoError(t, f.app.DeleteChatHistory("aria", "me"))

	recent, err := f.app.LoadRecentChats()
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRun_WithSignalChan(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	f := newFixture(t, func(cfg *config.Config, o *Options) {
		o.SignalChan = sigCh
		cfg.Metrics.Addr = "127.0.0.1:0"
	})

	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Run(context.Background()) }()

	require.Eventually(t, f.app.Supervisor().Running, 2*time.Second, 5*time.Millisecond)
	sigCh <- syscall.SIGTERM

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after signal")
	}

	f.launcher.mu.Lock()
	defer f.launcher.mu.Unlock()
	for _, p := range f.launcher.procs {
		select {
		case <-p.Done():
		default:
			t.Errorf("process %d still running", p.pid)
		}
	}
}

func TestRun_StartupFailure(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, o *Options) {
		o.Resolver = stubResolver{err: supervisor.ErrNoCandidate}
		o.SignalChan = make(chan os.Signal)
	})

	err := f.app.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, supervisor.ErrNoCandidate)
	assert.Contains(t, Display(err), "no usable program")
}

func TestRun_ContextCancelled(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, o *Options) {
		o.SignalChan = make(chan os.Signal)
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDisplay(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"status", fmt.Errorf("ask: %w", &gateway.StatusError{Endpoint: "/ask", StatusCode: 500, Body: "boom"}), "Gateway error (HTTP 500): boom"},
		{"transport", fmt.Errorf("ask: %w: dial", gateway.ErrTransport), "Gateway unreachable: "},
		{"decode", fmt.Errorf("%w: bad", gateway.ErrDecode), "Unexpected gateway response: "},
		{"not found", &store.NotFoundError{Kind: store.KindCharacter, ID: "aria"}, `No character with id "aria".`},
		{"store decode", fmt.Errorf("%w: characters.json", store.ErrDecode), "Data file is corrupted: "},
		{"store read", fmt.Errorf("%w: characters.json", store.ErrRead), "Cannot read data: "},
		{"store write", fmt.Errorf("%w: characters.json", store.ErrWrite), "Cannot save data: "},
		{"directory", store.ErrDirectoryMissing, "Asset directory missing: "},
		{"invalid", store.ErrInvalidName, "Invalid input: "},
		{"spawn", fmt.Errorf("%w: gateway", supervisor.ErrSpawn), "Cannot start services: "},
		{"timeout", supervisor.ErrStartupTimeout, "Services did not come up: "},
		{"other", errors.New("weird"), "Error: weird"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Display(tt.err)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.True(t, strings.HasPrefix(got, tt.want), got)
		})
	}
}
