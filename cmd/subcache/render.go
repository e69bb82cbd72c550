package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/snarg/subcache/internal/subtitle"
	"github.com/spf13/cobra"
)

func newRenderCommand() *cobra.Command {
	var formatFlag string

	cmd := &cobra.Command{
		Use:   "render FILE",
		Short: "Render a segment document or subtitle file as SRT or WebVTT",
		Long: "Render reads a {hash}.json segment document, an .srt or a .vtt file\n" +
			"(or - for stdin) and writes it to stdout in the requested format.\n" +
			"The input type follows the file extension; stdin is sniffed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := subtitle.ParseFormat(formatFlag)
			if err != nil {
				return err
			}

			var data []byte
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			segments, err := decodeSegments(args[0], data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			doc, err := subtitle.Render(format, segments)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), doc)
			return err
		},
	}

	cmd.Flags().StringVarP(&formatFlag, "format", "f", "vtt", "Output format: srt or vtt")
	return cmd
}

// decodeSegments reads segments from a JSON document or a subtitle file.
func decodeSegments(name string, data []byte) ([]subtitle.Segment, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".json" {
		return decodeJSON(data)
	}
	if f, err := subtitle.ParseFormat(ext); err == nil {
		return subtitle.Parse(f, string(data))
	}

	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\ufeff")), " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("[")), bytes.HasPrefix(trimmed, []byte("{")):
		return decodeJSON(data)
	case bytes.HasPrefix(trimmed, []byte("WEBVTT")):
		return subtitle.Parse(subtitle.FormatVTT, string(trimmed))
	}
	return subtitle.Parse(subtitle.FormatSRT, string(trimmed))
}

func decodeJSON(data []byte) ([]subtitle.Segment, error) {
	var segments []subtitle.Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, err
	}
	return segments, nil
}
