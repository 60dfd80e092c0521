package config

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/pulsefeed"
	"github.com/jpalmerr/pulsefeed/feeds/sshfeed"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStatsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pool": {"open": 12}, "version": "v1.4.2"}`))
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func parseAndBuild(t *testing.T, yaml string, opts ...pulsefeed.Option) *pulsefeed.Fleet {
	t.Helper()
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)

	fleet, err := BuildFleet(cfg, append([]pulsefeed.Option{pulsefeed.WithoutServer(), pulsefeed.WithLogger(discardLogger())}, opts...)...)
	require.NoError(t, err)
	return fleet
}

func startEntity(t *testing.T, fleet *pulsefeed.Fleet, id string) *pulsefeed.Entity {
	t.Helper()
	e, ok := fleet.Entity(id)
	require.True(t, ok, "entity %s not built", id)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func TestBuildFleet_HTTPAttributes(t *testing.T) {
	srv := newStatsServer(t)

	fleet := parseAndBuild(t, `
entities:
  - id: db-1
    feeds:
      - name: stats
        type: http
        url: `+srv.URL+`/stats
        attributes:
          - name: db.connections
            type: int
            source: json:pool.open
          - name: db.version
            type: string
            source: 'regex:v(\d+\.\d+)'
          - name: status.code
            type: int
          - name: service.up
            type: bool
            source: ok
            on_failure: false
      - name: maintenance
        type: http
        url: `+srv.URL+`/down
        attributes:
          - name: maintenance.up
            type: bool
            source: ok
            on_failure: false
          - name: maintenance.code
            type: int
            success: always
          - name: maintenance.body
            type: string
            source: body
            success: contains:MAINTENANCE
`)

	e := startEntity(t, fleet, "db-1")

	want := map[string]any{
		"db.connections":   12,
		"db.version":       "1.4",
		"status.code":      200,
		"service.up":       true,
		"maintenance.up":   false,
		"maintenance.code": 503,
		"maintenance.body": "maintenance",
	}
	require.Eventually(t, func() bool {
		return len(e.Snapshot()) == len(want)
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, e.Snapshot())
}

func TestBuildFleet_FailureWithoutValueLeavesAttribute(t *testing.T) {
	srv := newStatsServer(t)

	fleet := parseAndBuild(t, `
entities:
  - id: web
    feeds:
      - name: health
        type: http
        url: `+srv.URL+`/down
        attributes:
          - name: status.code
            type: int
          - name: seen
            type: bool
            source: ok
            success: always
`)

	e := startEntity(t, fleet, "web")
	require.Eventually(t, func() bool {
		_, ok := e.Snapshot()["seen"]
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	_, ok := e.Snapshot()["status.code"]
	assert.False(t, ok, "a 503 without on_failure must not write the attribute")
}

func TestBuildFleet_ExceptionValue(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	fleet := parseAndBuild(t, `
entities:
  - id: web
    feeds:
      - name: health
        type: http
        url: `+url+`
        timeout: 1s
        attributes:
          - name: status.code
            type: int
            on_exception: -1
`)

	e := startEntity(t, fleet, "web")
	require.Eventually(t, func() bool {
		return e.Snapshot()["status.code"] == -1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBuildFleet_RegistrationGatesAttributes(t *testing.T) {
	srv := newStatsServer(t)

	var attempts atomic.Int32
	coordinator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"id": "db-1"}`, string(body))
		attempts.Add(1)
	}))
	t.Cleanup(coordinator.Close)

	fleet := parseAndBuild(t, `
entities:
  - id: db-1
    feeds:
      - name: stats
        type: http
        url: `+srv.URL+`/stats
        register:
          url: `+coordinator.URL+`
          body: '{"id": "db-1"}'
          interval: 1s
        interval: 1s
        attributes:
          - name: db.connections
            type: int
            source: json:pool.open
`)

	e := startEntity(t, fleet, "db-1")
	require.Eventually(t, func() bool {
		return e.Snapshot()["db.connections"] == 12
	}, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestBuildFleet_IntegerFallbackForDuration(t *testing.T) {
	srv := newStatsServer(t)

	fleet := parseAndBuild(t, `
entities:
  - id: web
    feeds:
      - name: health
        type: http
        url: `+srv.URL+`/down
        attributes:
          - name: latency
            type: duration
            source: latency
            on_failure: 0
            on_exception: 0
`)

	e := startEntity(t, fleet, "web")
	require.Eventually(t, func() bool {
		v, ok := e.Snapshot()["latency"]
		return ok && v == time.Duration(0)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBuildFleet_Groups(t *testing.T) {
	fleet := parseAndBuild(t, `
entities:
  - id: db-1
    feeds:
      - name: stats
        type: http
        url: https://db-1.example.com
        attributes: [{name: x, type: int}]
groups:
  - name: web
    dimensions:
      region: [eu, us]
    feeds:
      - name: health
        type: http
        url: https://{{.region}}.example.com
        attributes: [{name: up, type: bool, source: ok}]
      - name: shell
        type: ssh
        command: uptime
        ssh:
          host: "{{.region}}.internal"
          user: probe
          password: secret
          insecure_ignore_host_key: true
        attributes: [{name: uptime, type: string}]
`)

	var ids []string
	for _, e := range fleet.Entities() {
		ids = append(ids, e.ID())
	}
	assert.Equal(t, []string{"db-1", "web-eu", "web-us"}, ids)

	e, _ := fleet.Entity("web-us")
	require.Len(t, e.Feeds(), 2)
	assert.Equal(t, "health", e.Feeds()[0].Name())
	assert.Equal(t, "shell", e.Feeds()[1].Name())
}

func TestBuildFleet_OptionsOverrideConfig(t *testing.T) {
	fleet := parseAndBuild(t, `
port: 9090
entities:
  - id: web
    feeds:
      - name: a
        type: http
        url: https://example.com
        attributes: [{name: x, type: int}]
`)
	assert.Equal(t, 9090, fleet.Port())

	fleet = parseAndBuild(t, `
port: 9090
entities:
  - id: web
    feeds:
      - name: a
        type: http
        url: https://example.com
        attributes: [{name: x, type: int}]
`, pulsefeed.WithPort(7070))
	assert.Equal(t, 7070, fleet.Port())
}

func TestBuildFleet_Errors(t *testing.T) {
	feed := func(attr AttributeConfig) *Config {
		return &Config{
			Port:         8080,
			PollInterval: Duration(time.Second),
			Entities: []EntityConfig{{
				ID: "web",
				Feeds: []FeedConfig{{
					Name:       "a",
					Type:       "http",
					URL:        "https://example.com",
					Attributes: []AttributeConfig{attr},
				}},
			}},
		}
	}

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{
			name:    "on_failure not coercible",
			cfg:     feed(AttributeConfig{Name: "x", Type: "int", OnFailure: "down"}),
			wantErr: "entity web: feed a: attribute x: on_failure",
		},
		{
			name:    "on_exception not coercible",
			cfg:     feed(AttributeConfig{Name: "x", Type: "bool", OnException: 3.5}),
			wantErr: "on_exception",
		},
		{
			name:    "unknown type",
			cfg:     feed(AttributeConfig{Name: "x", Type: "uuid"}),
			wantErr: `unsupported type "uuid"`,
		},
		{
			name:    "unknown source",
			cfg:     feed(AttributeConfig{Name: "x", Type: "int", Source: "field:1"}),
			wantErr: `unknown http source "field:1"`,
		},
		{
			name: "duplicate entity",
			cfg: &Config{
				Port:         8080,
				PollInterval: Duration(time.Second),
				Entities: []EntityConfig{
					{ID: "web", Feeds: []FeedConfig{{Name: "a", Type: "http", URL: "https://example.com"}}},
					{ID: "web"},
				},
			},
			wantErr: `duplicate entity id: "web"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildFleet(tt.cfg, pulsefeed.WithoutServer(), pulsefeed.WithLogger(discardLogger()))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseStatusClasses(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"2xx", []int{2}, false},
		{"2xx, 3xx", []int{2, 3}, false},
		{"5xx", []int{5}, false},
		{"", nil, true},
		{"200", nil, true},
		{"6xx", nil, true},
		{"xx", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseStatusClasses(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSSHSources(t *testing.T) {
	r := &sshfeed.Result{Stdout: "0.42 0.30 0.10\n", Stderr: " warn \n", ExitCode: 3}

	tests := []struct {
		setting string
		want any
		ok   bool
	}{
		{"", "0.42 0.30 0.10", true},
		{"stdout", "0.42 0.30 0.10", true},
		{"stderr", "warn", true},
		{"exit_code", 3, true},
		{"field:1", "0.30", true},
		{"ok", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.setting, func(t *testing.T) {
			src, err := sshSource(tt.setting)
			require.NoError(t, err)
			got, ok, err := src(r)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	src, err := sshSource("field:7")
	require.NoError(t, err)
	_, ok, err := src(r)
	assert.False(t, ok)
	assert.ErrorContains(t, err, "field 7 not present")

	_, err = sshSource("field:-1")
	assert.Error(t, err)
	_, err = sshSource("json:a")
	assert.Error(t, err)
}

func TestSSHSuccess(t *testing.T) {
	exitOK, err := sshSuccess("")
	require.NoError(t, err)
	assert.True(t, exitOK(&sshfeed.Result{ExitCode: 0}))
	assert.False(t, exitOK(&sshfeed.Result{ExitCode: 1}))

	contains, err := sshSuccess("contains:active")
	require.NoError(t, err)
	assert.True(t, contains(&sshfeed.Result{Stdout: "active (running)"}))
	assert.False(t, contains(&sshfeed.Result{Stdout: "failed"}))

	always, err := sshSuccess("always")
	require.NoError(t, err)
	assert.Nil(t, always)

	_, err = sshSuccess("contains:")
	assert.Error(t, err)
	_, err = sshSuccess("status:2xx")
	assert.Error(t, err)
}
