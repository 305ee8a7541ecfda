package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"fifobus/pkg/protocol"
	"fifobus/pkg/protocol/codec"
	"fifobus/pkg/protocol/stream"
	"fifobus/pkg/records"
)

// newGenFrameCmd writes sample frames for every codec so other readers of the
// wire format can be checked against them.
func newGenFrameCmd() *cobra.Command {
	var (
		outDir string
		count  int
		seed   uint64
	)
	cmd := &cobra.Command{
		Use:   "genframe",
		Short: "Write sample claim and diagnose frames for each codec",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return genFrames(cmd.OutOrStdout(), outDir, count, seed)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "testdata/frame", "output directory for binary frames")
	cmd.Flags().IntVar(&count, "count", 3, "records per kind and codec")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "generator seed")
	return cmd
}

func genFrames(out io.Writer, dir string, count int, seed uint64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	reg := codec.NewRegistry()
	for _, name := range reg.Names() {
		c, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		gen := records.NewGenerator(0, rand.NewPCG(seed, seed))
		for _, kind := range []records.Kind{records.KindClaim, records.KindDiagnose} {
			next := gen.Func(kind)
			for i := 0; i < count; i++ {
				var buf bytes.Buffer
				if _, err := stream.NewWriter(&buf, protocol.Framer{}, c).Send(context.Background(), next()); err != nil {
					return fmt.Errorf("%s %s: %w", name, kind, err)
				}
				file := fmt.Sprintf("%s_%s_%02d.bin", kind, name, i)
				if err := os.WriteFile(filepath.Join(dir, file), buf.Bytes(), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(out, "%-24s %5d bytes  payload: %s\n", file, buf.Len(), shortHex(buf.Bytes()[protocol.LengthPrefixSize:], 32))
			}
		}
	}
	fmt.Fprintln(out, "Generated frames in", dir)
	return nil
}

func shortHex(b []byte, n int) string {
	if len(b) == 0 {
		return ""
	}
	n = min(n, len(b))
	enc := hex.EncodeToString(b[:n])
	if len(b) > n {
		enc += "..."
	}
	var out []string
	for i := 0; i < len(enc); i += 4 {
		out = append(out, enc[i:min(i+4, len(enc))])
	}
	return strings.Join(out, " ")
}
