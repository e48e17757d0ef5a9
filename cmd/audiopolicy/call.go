package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"audiopolicy/audio"
	"audiopolicy/client"
	"audiopolicy/policy"
	"audiopolicy/registry"
)

var (
	cmdCall = &cobra.Command{
		Use:   "call <operation> [args...]",
		Short: "Invoke one operation on the audio policy service",
		Long: `Invoke one operation and print the reply fields.

Operations are named as on the wire, e.g. getOutput or setForceUse. Integer
arguments accept decimal or 0x hex; stream arguments also accept a stream
name such as music or voice-call. Run "call list" to print every operation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCall,
	}
)

var callAddr string
var callTimeout time.Duration

func init() {
	rootCmd.AddCommand(cmdCall)
	cmdCall.Flags().StringVarP(&callAddr, "addr", "a", "", "Server address (default: discover through the configured registry)")
	cmdCall.Flags().DurationVarP(&callTimeout, "timeout", "t", 5*time.Second, "Transaction timeout")
}

func runCall(_ *cobra.Command, args []string) error {
	if args[0] == "list" {
		for _, op := range policy.Operations() {
			fmt.Printf("%2d %s(%s) -> (%s)\n", uint32(op.Code), op.Name, fieldList(op.In), fieldList(op.Out))
		}
		return nil
	}

	op, ok := policy.LookupName(args[0])
	if !ok {
		return fmt.Errorf("unknown operation %q", args[0])
	}
	values, err := parseArgs(op, args[1:])
	if err != nil {
		return err
	}

	cli, err := dialService()
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	out, err := policy.NewProxy(cli).Call(ctx, op.Code, values...)
	if err != nil {
		return err
	}
	for i, f := range op.Out {
		switch f.Kind {
		case policy.KindCString:
			fmt.Printf("%s=%q\n", f.Name, out.Str(i))
		default:
			fmt.Printf("%s=%d\n", f.Name, out.Int32(i))
		}
	}
	if op.HasStatus() {
		if err := audio.Status(out.Int32(len(out) - 1)).Err(); err != nil {
			return err
		}
	}
	return nil
}

func dialService() (*client.Client, error) {
	if callAddr != "" {
		return client.Dial(callAddr), nil
	}
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if conf.Registry == nil {
		return client.Dial(conf.Server.Listen), nil
	}
	reg, err := registry.NewEtcdRegistry(conf.Registry.Endpoints, conf.Registry.DialTimeoutDuration())
	if err != nil {
		return nil, err
	}
	// The registry is only read once, for the lookup; leaving it open until exit is fine.
	return client.NewClient(reg, conf.Registry.Service,
		client.WithPoolSize(1),
		client.WithDialTimeout(conf.Registry.DialTimeoutDuration())), nil
}

func parseArgs(op *policy.Operation, args []string) ([]any, error) {
	if len(args) != len(op.In) {
		return nil, fmt.Errorf("%s takes %d arguments (%s), got %d", op.Name, len(op.In), fieldList(op.In), len(args))
	}
	values := make([]any, len(args))
	for i, f := range op.In {
		if f.Kind == policy.KindCString {
			values[i] = args[i]
			continue
		}
		if f.Name == "stream" {
			if st, ok := audio.ParseStreamType(args[i]); ok {
				values[i] = int32(st)
				continue
			}
		}
		v, err := strconv.ParseInt(args[i], 0, 32)
		if err != nil {
			// Masks such as 0xffffffff are written unsigned.
			u, uerr := strconv.ParseUint(args[i], 0, 32)
			if uerr != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			v = int64(int32(uint32(u)))
		}
		values[i] = int32(v)
	}
	return values, nil
}

func fieldList(fields []policy.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name + " " + f.Kind.String()
	}
	return strings.Join(names, ", ")
}
