package banner

import (
	"bytes"
	"strings"
	"testing"
)

func TestStartup_ShouldPrintArtAndDetails(t *testing.T) {
	var buf bytes.Buffer
	Startup(&buf, Info{Version: "0.3.0", Provider: "openai", Model: "gpt-4o-mini", Marker: "@#%"}, false)
	out := buf.String()
	if !strings.Contains(out, "|___/ .__/") {
		t.Errorf("expected art, got %q", out)
	}
	if !strings.Contains(out, "  v0.3.0  openai/gpt-4o-mini  marker @#%\n") {
		t.Errorf("expected details line, got %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Error("no ANSI codes without color")
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasSuffix(line, " ") {
			t.Errorf("trailing space in %q", line)
		}
	}
}

func TestStartup_WhenColor_ShouldWrapDetails(t *testing.T) {
	var buf bytes.Buffer
	Startup(&buf, Info{Version: "1"}, true)
	if !strings.Contains(buf.String(), "\033[36m  v1\033[0m") {
		t.Errorf("got %q", buf.String())
	}
}

func TestDetails_ShouldSkipEmptyParts(t *testing.T) {
	cases := []struct {
		info Info
		want string
	}{
		{Info{}, "  vdev"},
		{Info{Version: "2", Provider: "local"}, "  v2  local"},
		{Info{Version: "2", Model: "m", Marker: "~~"}, "  v2  marker ~~"},
	}
	for _, c := range cases {
		if got := Details(c.info); got != c.want {
			t.Errorf("Details(%+v): want %q, got %q", c.info, c.want, got)
		}
	}
}
