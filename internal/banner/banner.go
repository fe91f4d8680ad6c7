// Package banner prints the startup banner of the serve command.
package banner

import (
	"fmt"
	"io"
	"strings"
)

var art = []string{
	"                 _ _               _   ",
	"  ___ _ __   ___| | | ___ __ _ ___| |_ ",
	" / __| '_ \\ / _ \\ | |/ __/ _" + "`" + " / __| __|",
	" \\__ \\ |_) |  __/ | | (_| (_| \\__ \\ |_ ",
	" |___/ .__/ \\___|_|_|\\___\\__,_|___/\\__|",
	"     |_|                               ",
}

// Info is what the banner reports under the art.
type Info struct {
	Version  string
	Provider string
	Model    string
	Marker   string
}

// Startup writes the art followed by one line of build and agent details.
// With color set the details line is wrapped in ANSI cyan.
func Startup(w io.Writer, info Info, color bool) {
	for _, line := range art {
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	details := Details(info)
	if color {
		details = "\033[36m" + details + "\033[0m"
	}
	fmt.Fprintln(w, details)
	fmt.Fprintln(w)
}

// Details formats info as "  v<version>  <provider>/<model>  marker <marker>",
// skipping empty parts.
func Details(info Info) string {
	parts := []string{"v" + orDev(info.Version)}
	switch {
	case info.Provider != "" && info.Model != "":
		parts = append(parts, info.Provider+"/"+info.Model)
	case info.Provider != "":
		parts = append(parts, info.Provider)
	}
	if info.Marker != "" {
		parts = append(parts, "marker "+info.Marker)
	}
	return "  " + strings.Join(parts, "  ")
}

func orDev(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}
