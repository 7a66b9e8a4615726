package cli

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/spf13/cobra"
)

// Value encodings accepted by get and put.
const (
	encodingPacket = "packet"
	encodingText   = "text"
	encodingHex    = "hex"
	encodingBase64 = "base64"
	encodingRaw    = "raw"
)

// partitionFlags select the client partition a record command works on.
type partitionFlags struct {
	clientID  string
	serverURI string
}

func addPartitionFlags(cmd *cobra.Command, f *partitionFlags) {
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "MQTT client identifier owning the partition")
	cmd.Flags().StringVar(&f.serverURI, "server-uri", "", "broker URI of the partition (defaults to mqtt.broker)")
	_ = cmd.MarkFlagRequired("client-id")
}

// withPartition opens the selected partition, runs fn and closes everything.
func (a *app) withPartition(cmd *cobra.Command, f *partitionFlags, fn func(*runtime) error) (err error) {
	rt, err := a.newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.close(); err == nil {
			err = closeErr
		}
	}()

	serverURI := strings.TrimSpace(f.serverURI)
	if serverURI == "" {
		serverURI = rt.cfg.MQTT.Broker
	}
	if err := rt.open(strings.TrimSpace(f.clientID), serverURI); err != nil {
		return err
	}
	return fn(rt)
}

func (a *app) newKeysCommand() *cobra.Command {
	var (
		pf   partitionFlags
		long bool
	)
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List the record keys stored for a client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPartition(cmd, &pf, func(rt *runtime) error {
				keys, err := rt.backend.Keys()
				if err != nil {
					return fmt.Errorf("list keys: %w", err)
				}
				sort.Strings(keys)

				out := cmd.OutOrStdout()
				if !long {
					for _, key := range keys {
						fmt.Fprintln(out, key)
					}
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tBYTES\tPACKET")
				for _, key := range keys {
					value, err := rt.backend.Get(key)
					if err != nil {
						fmt.Fprintf(tw, "%s\t-\t%v\n", key, err)
						continue
					}
					fmt.Fprintf(tw, "%s\t%d\t%s\n", key, len(value), packetSummary(value))
				}
				return tw.Flush()
			})
		},
	}
	addPartitionFlags(cmd, &pf)
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show value sizes and decoded packets")
	return cmd
}

func (a *app) newGetCommand() *cobra.Command {
	var (
		pf     partitionFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print a stored record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPartition(cmd, &pf, func(rt *runtime) error {
				value, err := rt.backend.Get(args[0])
				if err != nil {
					return fmt.Errorf("get %s: %w", args[0], err)
				}
				return writeValue(cmd.OutOrStdout(), value, output)
			})
		},
	}
	addPartitionFlags(cmd, &pf)
	cmd.Flags().StringVarP(&output, "output", "o", encodingPacket, "output encoding: packet, hex, base64, raw")
	return cmd
}

func (a *app) newPutCommand() *cobra.Command {
	var (
		pf       partitionFlags
		input    string
		fromFile string
	)
	cmd := &cobra.Command{
		Use:   "put KEY [VALUE...]",
		Short: "Store a record; multiple values are concatenated in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buffers, err := readBuffers(args[1:], fromFile, input, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return a.withPartition(cmd, &pf, func(rt *runtime) error {
				if err := rt.backend.Put(args[0], buffers...); err != nil {
					return fmt.Errorf("put %s: %w", args[0], err)
				}
				rt.log.Info("record stored", "key", args[0], "size", len(bytes.Join(buffers, nil)))
				return nil
			})
		},
	}
	addPartitionFlags(cmd, &pf)
	cmd.Flags().StringVar(&input, "input", encodingText, "value encoding: text, hex, base64")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "read the value from a file ('-' for stdin)")
	return cmd
}

func (a *app) newRemoveCommand() *cobra.Command {
	var pf partitionFlags
	cmd := &cobra.Command{
		Use:     "remove KEY...",
		Aliases: []string{"rm", "del"},
		Short:   "Remove records; missing keys are not an error",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPartition(cmd, &pf, func(rt *runtime) error {
				for _, key := range args {
					if err := rt.backend.Remove(key); err != nil {
						return fmt.Errorf("remove %s: %w", key, err)
					}
				}
				return nil
			})
		},
	}
	addPartitionFlags(cmd, &pf)
	return cmd
}

func (a *app) newClearCommand() *cobra.Command {
	var (
		pf    partitionFlags
		force bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record stored for a client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to clear the partition of %q without --force", pf.clientID)
			}
			return a.withPartition(cmd, &pf, func(rt *runtime) error {
				if err := rt.backend.Clear(); err != nil {
					return fmt.Errorf("clear: %w", err)
				}
				rt.log.Info("partition cleared", "client_id", pf.clientID)
				return nil
			})
		},
	}
	addPartitionFlags(cmd, &pf)
	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion of all records")
	return cmd
}

// readBuffers decodes the put values from args or, with fromFile, a single file.
func readBuffers(args []string, fromFile, encoding string, stdin io.Reader) ([][]byte, error) {
	if fromFile != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("values and --file are mutually exclusive")
		}
		var (
			data []byte
			err  error
		)
		if fromFile == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(fromFile)
		}
		if err != nil {
			return nil, fmt.Errorf("read value: %w", err)
		}
		return [][]byte{data}, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("a value or --file is required")
	}

	buffers := make([][]byte, 0, len(args))
	for _, arg := range args {
		b, err := decodeValue(arg, encoding)
		if err != nil {
			return nil, err
		}
		buffers = append(buffers, b)
	}
	return buffers, nil
}

func decodeValue(value, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case encodingText, "":
		return []byte(value), nil
	case encodingHex:
		b, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("decode hex value: %w", err)
		}
		return b, nil
	case encodingBase64:
		b, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("decode base64 value: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported input encoding %q (supported: text, hex, base64)", encoding)
	}
}

func writeValue(w io.Writer, value []byte, encoding string) error {
	var err error
	switch strings.ToLower(encoding) {
	case encodingPacket, "":
		if cp, decodeErr := decodePacket(value); decodeErr == nil {
			_, err = fmt.Fprintln(w, cp.String())
		} else {
			_, err = fmt.Fprintln(w, hex.EncodeToString(value))
		}
	case encodingHex:
		_, err = fmt.Fprintln(w, hex.EncodeToString(value))
	case encodingBase64:
		_, err = fmt.Fprintln(w, base64.StdEncoding.EncodeToString(value))
	case encodingRaw:
		_, err = w.Write(value)
	default:
		return fmt.Errorf("unsupported output encoding %q (supported: packet, hex, base64, raw)", encoding)
	}
	return err
}

// decodePacket reads value as one MQTT control packet. Trailing bytes mean the
// value is not a stored packet.
func decodePacket(value []byte) (packets.ControlPacket, error) {
	r := bytes.NewReader(value)
	cp, err := packets.ReadPacket(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after packet", r.Len())
	}
	return cp, nil
}

func packetSummary(value []byte) string {
	cp, err := decodePacket(value)
	if err != nil {
		return "-"
	}
	return strings.TrimSpace(cp.String())
}
