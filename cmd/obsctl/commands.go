package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/obsmesh"
	"github.com/hupe1980/obsmesh/history"
	"github.com/hupe1980/obsmesh/model"
	"github.com/hupe1980/obsmesh/observation"
)

func (c *cli) newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the registered observation kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := c.codec.Registry()
			for _, k := range reg.Kinds() {
				desc, err := reg.Describe(k)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", k, desc)
			}
			return nil
		},
	}
}

func (c *cli) newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <kind>",
		Short: "Show the description and payload schema of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := observation.Kind(args[0])
			desc, err := c.codec.Registry().Describe(kind)
			if err != nil {
				return err
			}
			schema, err := c.codec.Registry().Schema(kind)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", kind, desc)
			required, _ := schema["required"].([]string)
			if len(required) > 0 {
				fmt.Fprintf(out, "required: %s\n", strings.Join(required, ", "))
			}
			return writeJSON(out, schema["properties"])
		},
	}
}

func (c *cli) newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <kind>",
		Short: "Print the JSON schema of a kind's payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := c.codec.Registry().Schema(observation.Kind(args[0]))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), schema)
		},
	}
}

func (c *cli) newClassifyCmd() *cobra.Command {
	var cause, id string
	cmd := &cobra.Command{
		Use:   "classify <kind> [payload|-]",
		Short: "Validate a payload as a kind and print its wire form",
		Long: "Classify reads a JSON payload object from the argument or stdin, validates it\n" +
			"against the kind's schema and prints the serialized observation.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[1:])
			if err != nil {
				return err
			}
			o, err := c.codec.Registry().Classify(observation.Kind(args[0]), json.RawMessage(data), func(o *observation.Options) {
				o.Cause = cause
				o.ID = id
			})
			if err != nil {
				return err
			}
			wire, err := c.codec.Serialize(o)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(wire))
			return nil
		},
	}
	cmd.Flags().StringVar(&cause, "cause", "", "action id the observation answers")
	cmd.Flags().StringVar(&id, "id", "", "observation id")
	return cmd
}

func (c *cli) newDecodeCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "decode [file|-]",
		Short: "Decode JSON lines of serialized observations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeFn()

			obs, err := history.Import(r, c.codec)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return history.Export(out, c.codec, obs)
			case "text":
				for _, o := range obs {
					text, isErr := model.Render(o)
					status := "ok"
					if isErr {
						status = "failed"
					} else if o.IsOpaque() {
						status = "opaque"
					}
					fmt.Fprintf(out, "[%s] %s %s\n%s\n", o.Kind(), paint(out, status), o.Cause(), text)
				}
				return nil
			default:
				return fmt.Errorf("unknown format %q (want text or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text or json")
	return cmd
}

func (c *cli) newExecCmd() *cobra.Command {
	var (
		argsJSON string
		id       string
		timeout  time.Duration
		message  string
		remember []string
	)
	cmd := &cobra.Command{
		Use:   "exec <kind>",
		Short: "Run one action through the reference executor and print its observation",
		Example: `  obsctl exec read --args '{"path":"README.md"}'
  obsctl exec run --args '{"command":"sleep 5"}' --timeout 1s
  obsctl exec recall --remember "deploys happen on friday" --args '{"query":"deploy"}'
  obsctl exec chat --message "hello"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mesh, err := obsmesh.New(c.cfg, func(o *obsmesh.Options) {
				o.Registry = c.codec.Registry()
				o.Logger = c.logger
			})
			if err != nil {
				return err
			}
			defer mesh.Close()

			for _, text := range remember {
				if _, err := mesh.Remember(ctx, text, map[string]any{"source": "obsctl"}); err != nil {
					return err
				}
			}
			if message != "" {
				if err := mesh.Chat().TryPost("user", message); err != nil {
					return err
				}
			}

			a, err := model.ParseToolCall(id, args[0], argsJSON)
			if err != nil {
				return err
			}
			a.Timeout = timeout

			outcome, err := mesh.Execute(ctx, a)
			if err != nil {
				return err
			}
			if outcome.Err != nil {
				return outcome.Err
			}
			wire, err := c.codec.Serialize(outcome.Observation)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(wire))
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "action arguments as a JSON object")
	cmd.Flags().StringVar(&id, "id", "", "action id (generated when empty)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "action timeout (defaults to loop.action_timeout)")
	cmd.Flags().StringVar(&message, "message", "", "user message to post before a chat action")
	cmd.Flags().StringArrayVar(&remember, "remember", nil, "memory entry to store before a recall action (repeatable)")
	return cmd
}

// paint colors a decode status when writing to a terminal on stdout.
func paint(w io.Writer, status string) string {
	attr := color.FgGreen
	switch status {
	case "failed":
		attr = color.FgRed
	case "opaque":
		attr = color.FgYellow
	}
	c := color.New(attr)
	if f, ok := w.(*os.File); !ok || f != os.Stdout {
		c.DisableColor()
	}
	return c.Sprint(status)
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	return io.ReadAll(cmd.InOrStdin())
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
