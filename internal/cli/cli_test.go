package cli

import (
	"bytes"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/imageprocess"
	"github.com/dunamismax/pixelgate/internal/transform"
)

func testApp(t *testing.T) App {
	t.Helper()
	fs := afero.NewMemMapFs()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(20, 10, color.NRGBA{B: 255, A: 255})))
	require.NoError(t, afero.WriteFile(fs, "/public/a.png", buf.Bytes(), 0o644))

	return App{
		Load: func(string) (config.Config, error) {
			return config.Config{
				Gateway: config.GatewayConfig{Default: "local"},
				Local:   config.LocalConfig{Root: "/public", PublicURL: "/storage"},
				Log:     config.LogConfig{Level: "error"},
			}, nil
		},
		Build: func(cfg config.Config, logger zerolog.Logger) (Chains, error) {
			p, _, err := imageprocess.Configure(cfg, logger, nil, fs)
			return p, err
		},
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(testApp(t))
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestURLCommandOnOSS(t *testing.T) {
	out, err := run(t, "url", "https://b.oss-cn-hangzhou.aliyuncs.com/a.jpg",
		"--backend", "oss",
		"--resize", "1:w=100,h=100",
		"--round", "10",
		"--watermark", "text:text=hi,dx=5,dy=5",
	)
	require.NoError(t, err)
	assert.Equal(t,
		"https://b.oss-cn-hangzhou.aliyuncs.com/a.jpg?x-oss-process=image/resize,m_mfit,w_100,h_100/circle,r_10/watermark,text_aGk=,x_5,y_5\n",
		out)
}

func TestURLCommandOnLocal(t *testing.T) {
	out, err := run(t, "url", "a.png", "--round", "radiusx=3,radiusy=4")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "/storage/a_"), out)

	_, err = run(t, "url", "missing.png", "--round", "3")
	assert.ErrorIs(t, err, transform.ErrSourceNotFound)
}

func TestURLCommandRejectsBadFlags(t *testing.T) {
	_, err := run(t, "url", "a.png", "--resize", "x:w=1")
	assert.Error(t, err)

	_, err = run(t, "url", "a.png", "--watermark", "text")
	assert.Error(t, err)

	_, err = run(t, "url", "a.png", "--resize", "9:w=1")
	assert.ErrorIs(t, err, transform.ErrInvalidParameter)
}

func TestInfoCommand(t *testing.T) {
	out, err := run(t, "info", "a.png")
	require.NoError(t, err)
	assert.Contains(t, out, `"width": 20`)
	assert.Contains(t, out, `"height": 10`)
	assert.Contains(t, out, `"format": "png"`)
}

func TestBackendsCommand(t *testing.T) {
	out, err := run(t, "backends")
	require.NoError(t, err)
	assert.Equal(t, "* local\n  oss\n  qiniu\n", out)
}

func TestParseWatermarkMixed(t *testing.T) {
	step, err := parseWatermark("text_image:image=logo.png,gravity=northwest;text=hi,size=12")
	require.NoError(t, err)
	assert.Equal(t, "text_image", step.Type)
	require.Len(t, step.Params, 2)
	assert.Equal(t, "logo.png", step.Params[0]["image"])
	assert.Equal(t, "12", step.Params[1]["size"])
}

func TestParseOptionsRejectsBarewords(t *testing.T) {
	_, err := parseOptions("w=1,h")
	assert.Error(t, err)

	opts, err := parseOptions("")
	require.NoError(t, err)
	assert.Empty(t, opts)
}
