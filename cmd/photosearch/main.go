// Command photosearch is a terminal front end for the photo gateway.
//
//	search <words>   new search, page 1 (no words lists recent uploads)
//	next, prev       page navigation
//	show <id>        open a photo of the current page
//	close            close the photo
//	quit
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	_ "github.com/joho/godotenv/autoload"

	"github.com/moddengine/photoproxy/logger"
	"github.com/moddengine/photoproxy/session"
)

var log = logger.New("photosearch")

type config struct {
	GatewayURL string `env:"GATEWAY_URL" envDefault:"http://localhost:2000"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := session.New(ctx, session.NewClient(cfg.GatewayURL))
	render(os.Stdout, s.State())
	run(os.Stdin, os.Stdout, s)
}

func run(in io.Reader, out io.Writer, s *session.Session) {
	scanner := bufio.NewScanner(in)
	for fmt.Fprint(out, "> "); scanner.Scan(); fmt.Fprint(out, "> ") {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch cmd {
		case "":
			continue
		case "search":
			s.Submit(strings.TrimSpace(arg))
		case "next":
			if _, ok := s.GoToPage(1); !ok {
				fmt.Fprintln(out, "No next page")
				continue
			}
		case "prev":
			if _, ok := s.GoToPage(-1); !ok {
				fmt.Fprintln(out, "No previous page")
				continue
			}
		case "show":
			if _, ok := s.Select(strings.TrimSpace(arg)); !ok {
				fmt.Fprintf(out, "No photo %q on this page\n", arg)
				continue
			}
		case "close":
			s.ClearSelection()
		case "quit", "exit":
			return
		default:
			fmt.Fprintf(out, "Unknown command %q\n", cmd)
			continue
		}
		s.Wait()
		render(out, s.State())
	}
}

func render(out io.Writer, st session.State) {
	if st.Selected != nil {
		renderDetail(out, st)
		return
	}
	if st.StatusText != "" {
		fmt.Fprintln(out, st.StatusText)
	}
	for _, photo := range st.Items() {
		fmt.Fprintf(out, "%-12s %s  %s\n", photo.ID, photo.ThumbnailURL(), photo.Title)
	}
	if st.TotalPages > 0 {
		fmt.Fprintf(out, "Page %d of %d", st.Query.Page, st.TotalPages)
		if st.CanPrev() {
			fmt.Fprint(out, "  [prev]")
		}
		if st.CanNext() {
			fmt.Fprint(out, "  [next]")
		}
		fmt.Fprintln(out)
	}
}

func renderDetail(out io.Writer, st session.State) {
	photo := st.Selected
	fmt.Fprintln(out, photo.ImageURL())
	switch {
	case st.Detail != nil:
		d := st.Detail
		fmt.Fprintf(out, "%s  %s\n", d.Owner.AvatarURL(), d.Owner.Username)
		if taken := d.TakenDate(); taken != "" {
			fmt.Fprintln(out, taken)
		}
		if d.Description != "" {
			fmt.Fprintln(out, d.Description)
		}
	case st.DetailErr != nil:
		fmt.Fprintln(out, session.StatusFailed)
	}
}
