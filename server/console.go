package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/Mmx233/klf/screenshot"
	"github.com/Mmx233/klf/server/bans"
)

// RunConsole reads operator commands from in until EOF, ctx is cancelled or
// the operator quits. Replies go to out.
func (s *Server) RunConsole(ctx context.Context, in io.Reader, out io.Writer, quit func()) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if s.consoleCommand(ctx, line, out, quit) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read console: %w", err)
	}
	return nil
}

// consoleCommand runs one line and reports whether the console should stop.
func (s *Server) consoleCommand(ctx context.Context, line string, out io.Writer, quit func()) bool {
	if !strings.HasPrefix(line, "/") {
		err := s.call(ctx, func() {
			s.broadcastServerMessage("[Server] "+line, nil)
		})
		if err != nil {
			return true
		}
		s.logger.Info().Str("text", line).Msg("server message")
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch strings.ToLower(name) {
	case "/quit", "/exit":
		quit()
		return true
	case "/kick":
		err = s.call(ctx, func() { s.consoleKick(out, arg) })
	case "/ban":
		err = s.call(ctx, func() { s.consoleBan(out, arg) })
	case "/banip":
		s.consoleBanIP(out, arg)
	case "/unbanip":
		s.consoleUnbanIP(out, arg)
	case "/clearbans":
		if err := s.bans.Clear(); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		} else {
			fmt.Fprintln(out, "All bans cleared.")
		}
	case "/bans":
		s.consoleBans(out)
	case "/ip":
		err = s.call(ctx, func() {
			if sess := s.findByName(arg); sess != nil {
				fmt.Fprintf(out, "%s ip: %s\n", sess.Username(), sess.ip)
			} else {
				fmt.Fprintf(out, "User %s not found.\n", arg)
			}
		})
	case "/list":
		err = s.call(ctx, func() { s.consoleList(out) })
	case "/count":
		err = s.call(ctx, func() {
			fmt.Fprintf(out, "Total Clients: %d\n", s.slots.Count())
			fmt.Fprintf(out, "In-Game Clients: %d\n", s.numInGame)
			fmt.Fprintf(out, "In-Flight Clients: %d\n", s.numInFlight)
		})
	case "/help":
		printConsoleHelp(out)
	default:
		fmt.Fprintf(out, "Unknown command: %s. Enter /help for available commands.\n", name)
	}
	return err != nil
}

func printConsoleHelp(out io.Writer) {
	fmt.Fprintln(out, "/quit              shut down the server")
	fmt.Fprintln(out, "/kick <username>   disconnect a user")
	fmt.Fprintln(out, "/ban <username>    ban a user's ip and disconnect them")
	fmt.Fprintln(out, "/banip <ip>        ban an ip")
	fmt.Fprintln(out, "/unbanip <ip>      lift an ip ban")
	fmt.Fprintln(out, "/clearbans         lift every ban")
	fmt.Fprintln(out, "/bans              list banned ips")
	fmt.Fprintln(out, "/ip <username>     show a user's ip")
	fmt.Fprintln(out, "/list              list connected users")
	fmt.Fprintln(out, "/count             count connected users")
	fmt.Fprintln(out, "Anything else is sent to every user as a server message.")
}

func (s *Server) consoleKick(out io.Writer, username string) {
	sess := s.findByName(username)
	if sess == nil {
		fmt.Fprintf(out, "User %s not found.\n", username)
		return
	}
	s.disconnect(sess, ReasonKicked, true)
	fmt.Fprintf(out, "Kicked %s.\n", sess.Username())
}

func (s *Server) consoleBan(out io.Writer, username string) {
	sess := s.findByName(username)
	if sess == nil {
		fmt.Fprintf(out, "User %s not found.\n", username)
		return
	}
	if err := s.bans.Add(sess.ip, sess.Username()); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	s.disconnect(sess, ReasonBannedNow, true)
	fmt.Fprintf(out, "Banned %s (%s).\n", sess.Username(), sess.ip)
}

func (s *Server) consoleBanIP(out io.Writer, ip string) {
	banned, err := s.bans.Contains(ip)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if banned {
		fmt.Fprintf(out, "IP %s was already banned.\n", ip)
		return
	}
	if err := s.bans.Add(ip, ""); err != nil {
		if errors.Is(err, bans.ErrInvalidIP) {
			fmt.Fprintln(out, "Invalid ip.")
		} else {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		return
	}
	fmt.Fprintf(out, "Banned ip: %s\n", ip)
}

func (s *Server) consoleUnbanIP(out io.Writer, ip string) {
	removed, err := s.bans.Remove(ip)
	switch {
	case errors.Is(err, bans.ErrInvalidIP):
		fmt.Fprintln(out, "Invalid ip.")
	case err != nil:
		fmt.Fprintf(out, "Error: %v\n", err)
	case removed:
		fmt.Fprintf(out, "Unbanned ip: %s\n", ip)
	default:
		fmt.Fprintf(out, "IP %s not found in ban list.\n", ip)
	}
}

func (s *Server) consoleBans(out io.Writer) {
	list, err := s.bans.List()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"IP", "Username", "Banned At"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, b := range list {
		tw.Append([]string{b.IP, b.Username, b.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	tw.Render()
}

func (s *Server) consoleList(out io.Writer) {
	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Index", "Username", "State", "Activity", "IP", "Screenshots"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, e := range s.slots.List() {
		sess := e.Item
		tw.Append([]string{
			strconv.Itoa(e.Index),
			sess.Username(),
			sess.State().String(),
			sess.Activity().String(),
			sess.ip,
			screenshotRange(sess.shots),
		})
	}
	tw.Render()
}

// screenshotRange renders the retained screenshot indexes as "first-last".
func screenshotRange(r *screenshot.Ring) string {
	if r.Len() == 0 {
		return "-"
	}
	return strconv.Itoa(int(r.FirstIndex())) + "-" + strconv.Itoa(int(r.LastIndex()))
}
