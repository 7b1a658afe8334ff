package main

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/icexin/gocraft-gridsync/journal"
	"github.com/icexin/gocraft-gridsync/proto"
)

func JournalCommand() *cli.Command {
	return &cli.Command{
		Name:  "journal",
		Usage: "List the transmission units recorded in a journal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "path",
				Aliases:  []string{"p"},
				Usage:    "journal file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "dropped",
				Usage: "only list units that were dropped",
			},
			&cli.BoolFlag{
				Name:  "payload",
				Usage: "print each unit's commands",
			},
		},
		Action: func(c *cli.Context) error {
			j, err := journal.Open(c.String("path"))
			if err != nil {
				return err
			}
			defer j.Close()
			return listJournal(c.App.Writer, j, c.Bool("dropped"), c.Bool("payload"))
		},
	}
}

func listJournal(w io.Writer, j *journal.Journal, droppedOnly, payload bool) error {
	err := j.Range(func(e journal.Entry) bool {
		if droppedOnly && e.Status != journal.Dropped {
			return true
		}
		cmds := proto.ParseUnit(e.Payload)
		fmt.Fprintf(w, "%6d %s %-8s %-7s %4d %s\n", e.Seq, e.Time.Format(time.RFC3339), e.Kind, e.Status, len(cmds), e.Session)
		if payload {
			for _, c := range cmds {
				fmt.Fprintf(w, "       %s\n", c)
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	sent, dropped, err := j.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d sent, %d dropped\n", sent, dropped)
	return nil
}
