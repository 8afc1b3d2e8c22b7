package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelgate/internal/transform"
)

type recordingEncoder struct {
	keys     []string
	lastSpec transform.Spec
	lastPath string
}

func (e *recordingEncoder) Name() string { return "recording" }

func (e *recordingEncoder) ResizeKeys(int) []string { return e.keys }

func (e *recordingEncoder) URL(_ context.Context, path string, spec transform.Spec) (string, error) {
	e.lastPath = path
	e.lastSpec = spec
	return "url:" + path, nil
}

func (e *recordingEncoder) Info(_ context.Context, path string) (transform.ImageInfo, error) {
	return FallbackInfo(path), nil
}

func TestChainAccumulatesSpec(t *testing.T) {
	enc := &recordingEncoder{keys: []string{transform.KeyWidth}}
	chain := NewChain(enc, zerolog.Nop())

	url, err := chain.
		Path(" a/b.jpg ").
		Resize(1, transform.Options{"w": 10, "h": 20}).
		Round(5).
		Watermark("image", transform.Options{"image": "logo.png"}).
		Watermark("text_image", transform.Options{"text": "hi"}, transform.Options{"image": "x.png"}).
		URL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "url:a/b.jpg", url)

	spec := enc.lastSpec
	require.NotNil(t, spec.Resize)
	assert.Equal(t, 10, spec.Resize.Width)
	assert.Zero(t, spec.Resize.Height)
	assert.Equal(t, 5, spec.Round.Radius)
	require.Len(t, spec.Watermarks, 3)
	assert.Equal(t, 0, spec.Watermarks[0].Layer)
	assert.Equal(t, 1, spec.Watermarks[1].Layer)
	assert.Equal(t, 1, spec.Watermarks[2].Layer)
}

func TestChainInvalidParameterLeavesSpecUnmodified(t *testing.T) {
	chain := NewChain(&recordingEncoder{}, zerolog.Nop())
	chain.Path("a.jpg").Round(8)
	before := chain.Spec()

	chain.Watermark("image", transform.Options{"dx": 1})
	assert.ErrorIs(t, chain.Err(), transform.ErrInvalidParameter)
	assert.Equal(t, before, chain.Spec())

	chain.Resize(2, transform.Options{"w": 1}).Round(20)
	assert.Equal(t, before, chain.Spec(), "setters are ignored after a failure")

	_, err := chain.URL(context.Background())
	assert.ErrorIs(t, err, transform.ErrInvalidParameter)
	_, err = chain.Info(context.Background())
	assert.ErrorIs(t, err, transform.ErrInvalidParameter)
}

func TestChainRequiresPath(t *testing.T) {
	_, err := NewChain(&recordingEncoder{}, zerolog.Nop()).Round(3).URL(context.Background())
	assert.ErrorIs(t, err, transform.ErrInvalidParameter)
}

func TestChainIgnoresInvalidRound(t *testing.T) {
	chain := NewChain(&recordingEncoder{}, zerolog.Nop())
	chain.Round(map[string]int{"radiusx": 3})
	assert.NoError(t, chain.Err())
	assert.Nil(t, chain.Spec().Round)
}

type fakeLocator struct {
	known map[string]bool
}

func (l fakeLocator) Exists(_ context.Context, key string) (bool, error) {
	return l.known[key], nil
}

func (l fakeLocator) URL(key string) string {
	return "https://cdn.example.com/" + key
}

func TestResolveURL(t *testing.T) {
	locator := fakeLocator{known: map[string]bool{"uploads/a.jpg": true}}
	ctx := context.Background()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "https://img.example.com/a/b.jpg?x=1", want: "https://img.example.com/a/b.jpg"},
		{raw: "//img.example.com/a.png", want: "http://img.example.com/a.png"},
		{raw: "uploads/a.jpg", want: "https://cdn.example.com/uploads/a.jpg"},
		{raw: "img.example.com/missing.jpg", want: "http://img.example.com/missing.jpg"},
	}
	for _, tt := range tests {
		got, err := ResolveURL(ctx, locator, tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	got, err := ResolveURL(ctx, nil, "uploads/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "http://uploads/a.jpg", got)
}

func TestURLSafeBase64(t *testing.T) {
	assert.Equal(t, "aGk=", URLSafeBase64("hi"))
	assert.Equal(t, "Pz8_", URLSafeBase64("???"))
	assert.Equal(t, "-_8=", URLSafeBase64("\xfb\xff"))
}

func TestHexToRGB(t *testing.T) {
	r, g, b, err := HexToRGB("#FF8000")
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{255, 128, 0}, [3]uint8{r, g, b})

	r, g, b, err = HexToRGB("0f0")
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{0, 255, 0}, [3]uint8{r, g, b})

	_, _, _, err = HexToRGB("#12")
	assert.ErrorIs(t, err, transform.ErrInvalidParameter)
	_, _, _, err = HexToRGB("zzzzzz")
	assert.ErrorIs(t, err, transform.ErrInvalidParameter)
}

func TestSuffix(t *testing.T) {
	assert.Equal(t, "jpg", Suffix("https://a.example.com/x/y.jpg?x-oss-process=image/info"))
	assert.Equal(t, "png", Suffix("a.b/c.png"))
	assert.Equal(t, "", Suffix("noext"))
}

func TestHTTPFetcherDecodesObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "imageInfo", r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"size": 10, "format": "png"}`))
	}))
	defer srv.Close()

	var out struct {
		Size   int    `json:"size"`
		Format string `json:"format"`
	}
	err := NewHTTPFetcher(FetcherConfig{}).FetchJSON(context.Background(), srv.URL+"/a.png?imageInfo", &out)
	require.NoError(t, err)
	assert.Equal(t, 10, out.Size)
	assert.Equal(t, "png", out.Format)
}

func TestHTTPFetcherFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		timeout time.Duration
		delay   time.Duration
	}{
		{name: "array body", status: http.StatusOK, body: `[1,2]`},
		{name: "plain text", status: http.StatusOK, body: `not json`},
		{name: "server error", status: http.StatusInternalServerError, body: `{}`},
		{name: "timeout", status: http.StatusOK, body: `{}`, timeout: 20 * time.Millisecond, delay: 200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				time.Sleep(tt.delay)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var out map[string]any
			err := NewHTTPFetcher(FetcherConfig{Timeout: tt.timeout}).FetchJSON(context.Background(), srv.URL, &out)
			assert.ErrorIs(t, err, transform.ErrBackendRequest)
		})
	}
}
