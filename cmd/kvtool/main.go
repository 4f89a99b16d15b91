// Command kvtool lists or wipes the messages kept in a cabal badger directory.
// Stop the server first; badger holds an exclusive lock on the directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/internal/store"
)

func main() {
	dbPath := flag.String("db", "data/badger", "Path to badger DB")
	room := flag.String("room", "", "Only this room (empty for all rooms)")
	wipe := flag.Bool("wipe", false, "Delete instead of listing")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	if err := run(*dbPath, *room, *wipe, log); err != nil {
		log.Fatal().Err(err).Msg("kvtool failed")
	}
}

// run owns the database handle so it is closed before main exits.
func run(dbPath, room string, wipe bool, log zerolog.Logger) error {
	kv, err := store.OpenBadger(dbPath, log)
	if err != nil {
		return fmt.Errorf("error while opening badger: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Error().Err(err).Msg("close badger")
		}
	}()

	messages := store.NewMessageStore(kv, nil, log)
	ctx := context.Background()

	if wipe {
		if room == "" {
			err = kv.DropAll()
		} else {
			err = messages.PurgeRoom(ctx, room)
		}
		if err != nil {
			return fmt.Errorf("wipe failed: %w", err)
		}
		log.Info().Str("room", room).Msg("wiped")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Room", "Time", "ID", "User", "Flags", "Content"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	err = messages.Each(ctx, room, func(m models.Message) error {
		table.Append(row(m))
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	table.Render()
	fmt.Fprintf(os.Stderr, "%d messages\n", count)
	return nil
}

func row(m models.Message) []string {
	id := m.ID
	if len(id) > 8 {
		id = id[:8]
	}
	flags := ""
	if m.IsEdited() {
		flags += "E"
	}
	if m.Deleted {
		flags += "D"
	}
	content := m.Content
	if r := []rune(content); len(r) > 60 {
		content = string(r[:60]) + "..."
	}
	return []string{
		m.RoomName,
		m.CreatedAt().Format(time.DateTime),
		id,
		m.Username,
		flags,
		strconv.Quote(content),
	}
}
