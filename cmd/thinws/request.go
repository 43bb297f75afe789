package main

import (
	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/spf13/cobra"
)

func subscribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <room>",
		Short: "Subscribe to a room and print the acknowledgement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.roundTrip(cmd, envelope.Envelope{
				Type:   envelope.TypeSubscribe,
				RoomID: args[0],
			})
		},
	}
}

func sendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <room> [json-payload]",
		Short: "Send a message to a room and print the acknowledgement",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			payload, err := parsePayload(raw)
			if err != nil {
				return err
			}
			return a.roundTrip(cmd, envelope.Envelope{
				Type:    envelope.TypeMessage,
				RoomID:  args[0],
				Payload: payload,
			})
		},
	}
}

func requestCmd(a *app) *cobra.Command {
	var (
		typ       string
		room      string
		messageID string
		payload   string
	)
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send an arbitrary envelope and print the answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePayload(payload)
			if err != nil {
				return err
			}
			return a.roundTrip(cmd, envelope.Envelope{
				Type:      envelope.Type(typ),
				RoomID:    room,
				MessageID: messageID,
				Payload:   p,
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(envelope.TypeMessage), "envelope type")
	cmd.Flags().StringVarP(&room, "room", "r", "", "room id")
	cmd.Flags().StringVar(&messageID, "message-id", "", "message id (generated when empty)")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON object payload")
	return cmd
}
