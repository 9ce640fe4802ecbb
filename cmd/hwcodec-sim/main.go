// Command hwcodec-sim drives a codec context over the simulated codec and
// hardware backend and prints what comes out.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/hwcodec"
	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/config"
	"github.com/opd-ai/hwcodec/factory"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/sim"
	"github.com/opd-ai/hwcodec/task"
)

var version = "0.1.0"

type options struct {
	cfgFile string
	frames  int
	gop     string
	payload int
	digest  bool
	failPOC []int
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "hwcodec-sim",
		Short:         "Simulated hardware codec session",
		Long:          `hwcodec-sim runs the codec pipeline over a synthetic bitstream and a simulated hardware backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML); HWCODEC_* variables override it")
	root.PersistentFlags().IntVar(&opts.frames, "frames", 16, "number of pictures")
	root.PersistentFlags().IntSliceVar(&opts.failPOC, "fail-poc", nil, "pictures the simulated hardware fails on")

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a generated stream and print frames in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd.OutOrStdout(), opts)
		},
	}
	decodeCmd.Flags().StringVar(&opts.gop, "gop", "IBBP", "display-order picture pattern")
	decodeCmd.Flags().IntVar(&opts.payload, "payload", 64, "payload bytes per picture")
	decodeCmd.Flags().BoolVar(&opts.digest, "digest", false, "print a BLAKE2b-256 digest of every frame")

	encodeCmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode generated frames and print the packets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(cmd.OutOrStdout(), opts)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hwcodec-sim v%s\n", version)
		},
	}

	root.AddCommand(decodeCmd, encodeCmd, versionCmd)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newContext loads the configuration and returns an initialized context
// whose backend fails on failPOC.
func newContext(opts *options, typ hwcodec.ContextType) (*hwcodec.Context, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	f := factory.NewCodecFactory()
	if len(opts.failPOC) > 0 {
		fail := sim.WithFailPOC(opts.failPOC...)
		err = errors.Join(
			f.RegisterDecoder(interfaces.CodingSim,
				func() interfaces.IParser { return sim.NewParser() },
				func() interfaces.IHAL[task.Decode] { return sim.NewHAL(fail) }),
			f.RegisterEncoder(interfaces.CodingSim,
				func() interfaces.IEncoder { return sim.NewEncoder(sim.DefaultGOPLength) },
				func() interfaces.IHAL[task.Encode] { return sim.NewEncHAL(fail) }),
		)
		if err != nil {
			return nil, err
		}
	}

	ctx, err := hwcodec.New(cfg, hwcodec.WithFactory(f))
	if err != nil {
		return nil, err
	}
	if err := ctx.Init(typ, interfaces.CodingSim); err != nil {
		_ = ctx.Destroy()
		return nil, err
	}
	return ctx, nil
}

func runDecode(w io.Writer, opts *options) error {
	pics, err := sim.Stream(opts.gop, opts.frames, opts.payload)
	if err != nil {
		return err
	}
	ctx, err := newContext(opts, hwcodec.ContextDec)
	if err != nil {
		return err
	}
	defer ctx.Destroy()

	feedErr := make(chan error, 1)
	go func() {
		for _, p := range pics {
			pkt := frame.NewPacket(p.Data)
			pkt.PTS = int64(p.POC)
			if err := ctx.PutPacket(pkt); err != nil {
				feedErr <- err
				return
			}
		}
		feedErr <- ctx.PutPacket(frame.NewEOSPacket())
	}()

	var n int
	for {
		f, err := ctx.GetFrame()
		if err != nil {
			return err
		}
		if f.IsEOS() {
			break
		}
		line, err := describeFrame(f, opts.digest)
		_ = f.Release()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, line)
		n++
	}
	if err := <-feedErr; err != nil {
		return err
	}

	s, err := ctx.Stats()
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function":        "runDecode",
		"packets":         s.PacketsIn,
		"frames":          s.FramesOut,
		"parse_errors":    s.ParseErrors,
		"hardware_errors": s.HardwareErrors,
	}).Info("Decode finished")
	fmt.Fprintf(w, "frames=%d parse_errors=%d hardware_errors=%d\n", n, s.ParseErrors, s.HardwareErrors)
	return nil
}

func describeFrame(f *frame.Frame, digest bool) (string, error) {
	size := 0
	if b := f.Buffer(); b != nil {
		size = b.Size()
	}
	line := fmt.Sprintf("poc=%d pts=%d size=%d err=%t", f.POC, f.PTS, size, f.HasError())
	if !digest || f.Buffer() == nil {
		return line, nil
	}
	data, err := f.Buffer().Map()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return line + " blake2b=" + hex.EncodeToString(sum[:]), nil
}

func runEncode(w io.Writer, opts *options) error {
	if opts.frames <= 0 {
		return fmt.Errorf("--frames must be positive, got %d", opts.frames)
	}
	ctx, err := newContext(opts, hwcodec.ContextEnc)
	if err != nil {
		return err
	}
	defer ctx.Destroy()

	g, err := buffer.NewGroup("hwcodec-sim-frames", buffer.ModeInternal, buffer.KindHeap, buffer.Limits{})
	if err != nil {
		return err
	}
	defer g.Close()

	feedErr := make(chan error, 1)
	go func() {
		feedErr <- feedFrames(ctx, g, opts.frames)
	}()

	for {
		pkt, err := ctx.GetPacket()
		if err != nil {
			return err
		}
		if pkt.IsEOS() {
			_ = pkt.Release()
			break
		}
		code, _ := pkt.Meta().Int(frame.MetaKeyErrInfo)
		fmt.Fprintf(w, "pts=%d size=%d intra=%t err=%d\n",
			pkt.PTS, pkt.Len(), pkt.Flags&frame.PacketIntra != 0, code)
		_ = pkt.Release()
	}
	return <-feedErr
}

// feedFrames queues n flat frames drawn from g, then end of stream.
func feedFrames(ctx *hwcodec.Context, g *buffer.Group, n int) error {
	for i := 0; i < n; i++ {
		info := frame.Info{Width: sim.DefaultWidth, Height: sim.DefaultHeight, PTS: int64(i)}
		b, err := g.Acquire(info.Size())
		if err != nil {
			return err
		}
		data, err := b.Map()
		if err != nil {
			_ = b.DecRef()
			return err
		}
		for j := range data {
			data[j] = byte(i)
		}
		f := frame.NewWithInfo(info)
		err = f.SetBuffer(b)
		_ = b.DecRef()
		if err != nil {
			return err
		}
		err = ctx.PutFrame(f)
		_ = f.Release()
		if err != nil {
			return err
		}
	}
	eos := frame.New()
	eos.Flags = frame.FlagEOS
	return ctx.PutFrame(eos)
}
