package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/room-chat/session"
	"github.com/gosuda/room-chat/store"
	"github.com/gosuda/room-chat/transport"
)

const (
	defaultServerURL = "https://backend-t4u2.onrender.com"
	defaultPageURL   = "http://localhost:3000/"
	dialTimeout      = 20 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "room-chat",
	Short: "Room-based chat client: join a room, talk, share invite links",
	Long: `room-chat connects to a real-time messaging backend and joins a chat room.
Pass an invite link with --url to join its room right away, or type a room ID at the prompt.`,
	SilenceUsage: true,
	RunE:         runChat,
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List recently joined rooms",
	RunE:  runRooms,
}

var roomsForgetCmd = &cobra.Command{
	Use:   "forget <room>...",
	Short: "Remove rooms from the recent list",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runForget,
}

var (
	flagServerURL  string
	flagProtocol   string
	flagPageURL    string
	flagTimeFormat string
	flagDataPath   string
	flagPort       int
	flagRelayURLs  []string
	flagName       string
	flagDebug      bool
	flagLimit      int
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServerURL, "server-url", envOr("ROOM_CHAT_SERVER", defaultServerURL), "messaging backend URL (from env ROOM_CHAT_SERVER if set)")
	flags.StringVar(&flagProtocol, "protocol", envOr("ROOM_CHAT_PROTOCOL", "socketio"), "backend wire protocol: socketio or json")
	flags.StringVar(&flagPageURL, "url", defaultPageURL, "page URL; an invite link's ?room= parameter joins that room on start")
	flags.StringVar(&flagTimeFormat, "time-format", session.DefaultTimeLayout, "Go time layout for message timestamps")
	flags.StringVar(&flagDataPath, "data-path", os.Getenv("ROOM_CHAT_DATA"), "optional directory to remember joined rooms via PebbleDB")
	flags.IntVar(&flagPort, "port", -1, "optional local HTTP port for the status view (negative to disable)")
	flags.StringSliceVar(&flagRelayURLs, "relay-url", splitCSV(os.Getenv("RELAY")), "relayserver URL(s) to publish the status view; repeat or comma-separated (from env RELAY if set)")
	flags.StringVar(&flagName, "name", "room-chat", "relay display name")
	flags.BoolVar(&flagDebug, "debug", false, "debug logging")

	roomsCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum rooms to list (0 for all)")
	roomsCmd.AddCommand(roomsForgetCmd)
	rootCmd.AddCommand(roomsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute room-chat command")
	}
}

func setupLogger() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if flagDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, ok := transport.CodecByName(flagProtocol)
	if !ok {
		return fmt.Errorf("unknown protocol %q", flagProtocol)
	}

	rooms, err := store.Open(flagDataPath)
	if err != nil {
		log.Warn().Err(err).Msg("[room-chat] open rooms store failed; not remembering rooms")
		rooms = nil
	}
	defer func() {
		if err := rooms.Close(); err != nil {
			log.Warn().Err(err).Msg("[room-chat] rooms store close error")
		}
	}()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := transport.Dial(dialCtx, flagServerURL, transport.WithCodec(codec))
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()
	log.Debug().Str("server", flagServerURL).Str("conn", conn.ID()).Msg("[room-chat] connected")

	con := newConsole(os.Stdin, cmd.OutOrStdout())
	var sess *session.Session
	sess = session.New(conn,
		session.WithTimeLayout(flagTimeFormat),
		session.WithOrigin(pageOrigin()),
		session.WithClipboard(systemClipboard{}),
		session.WithNotifier(con.notice),
		session.WithListener(con.printMessage),
		session.WithJoinHook(func(room string) {
			if err := rooms.Touch(room, time.Now()); err != nil {
				log.Debug().Err(err).Str("room", room).Msg("[room-chat] remember room")
			}
			con.joined(sess, room)
		}),
	)
	if err := sess.Mount(flagPageURL); err != nil {
		return err
	}
	defer sess.Unmount()

	stopStatus, err := serveStatus(ctx, newStatusHandler(sess), flagPort, flagRelayURLs, flagName)
	if err != nil {
		return err
	}
	defer stopStatus()

	go func() {
		select {
		case <-conn.Done():
			if !errors.Is(conn.Err(), transport.ErrClosed) {
				log.Error().Err(conn.Err()).Msg("[room-chat] disconnected from backend")
				stop()
			}
		case <-ctx.Done():
		}
	}()

	if err := con.Run(ctx, sess); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	log.Debug().Msg("[room-chat] shutdown complete")
	return nil
}

func openRooms() (*store.Rooms, error) {
	if flagDataPath == "" {
		return nil, errors.New("--data-path (or ROOM_CHAT_DATA) is required to manage rooms")
	}
	return store.Open(flagDataPath)
}

func runRooms(cmd *cobra.Command, args []string) error {
	setupLogger()
	rooms, err := openRooms()
	if err != nil {
		return err
	}
	defer rooms.Close()

	recent, err := rooms.Recent(flagLimit)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, r := range recent {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Room, r.LastJoined.Local().Format(time.DateTime), session.InviteLink(pageOrigin(), r.Room))
	}
	return tw.Flush()
}

func runForget(cmd *cobra.Command, args []string) error {
	setupLogger()
	rooms, err := openRooms()
	if err != nil {
		return err
	}
	defer rooms.Close()

	for _, room := range args {
		if err := rooms.Forget(room); err != nil {
			return fmt.Errorf("forget %s: %w", room, err)
		}
		log.Debug().Str("room", room).Msg("[room-chat] forgot room")
	}
	return nil
}

// pageOrigin is the invite origin implied by --url.
func pageOrigin() string {
	if origin, _, err := session.ParsePage(flagPageURL); err == nil {
		return origin
	}
	return strings.TrimSuffix(defaultPageURL, "/")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitCSV trims and drops empty entries from a comma-separated list.
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
