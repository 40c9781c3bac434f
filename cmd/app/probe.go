package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"PoseService/internal/api/pose"
	"PoseService/pkg/codec"
	websocketPkg "PoseService/pkg/websocket"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var probeFlags struct {
	url     string
	token   string
	model   string
	timeout time.Duration
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Connect to a running channel and print ping and status replies",
	Long: "Connect to a running channel and print ping and status replies. With --model the\n" +
		"probe also initializes a session and sends one synthetic gray frame, which should\n" +
		"come back as a no_pose detection.",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := probeFlags.url
		if url == "" {
			url = "ws://" + cfg.ListenAddr() + "/"
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), probeFlags.timeout)
		defer cancel()

		client, err := websocketPkg.Dial(ctx, url, probeFlags.token)
		if err != nil {
			return err
		}
		defer client.Close()

		steps := []probeStep{{kind: pose.CommandPing}, {kind: pose.CommandStatus}}
		if probeFlags.model != "" {
			frame, err := grayFrame(64, 64)
			if err != nil {
				return err
			}
			steps = append(steps,
				probeStep{kind: pose.CommandInit, fields: map[string]interface{}{"modelRef": probeFlags.model}},
				probeStep{kind: pose.CommandDetect, fields: map[string]interface{}{
					"frame":     frame,
					"timestamp": time.Now().UnixMilli(),
				}},
				probeStep{kind: pose.CommandStatus},
			)
		}

		for _, step := range steps {
			reply, err := client.Send(ctx, step.kind, step.fields)
			if err != nil {
				return fmt.Errorf("%s: %w", step.kind, err)
			}

			out, err := jsoniter.Marshal(reply)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		}

		_, _ = client.Send(ctx, pose.CommandClose, nil)
		return nil
	},
}

type probeStep struct {
	kind   pose.CommandType
	fields map[string]interface{}
}

func grayFrame(w, h int) (string, error) {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: 128}}, image.Point{}, draw.Src)
	return codec.EncodeJPEG(img, 85)
}

func init() {
	probeCmd.Flags().StringVar(&probeFlags.url, "url", "", "channel url (default ws://$POSE_WS_HOST:$POSE_WS_PORT/)")
	probeCmd.Flags().StringVar(&probeFlags.token, "token", "", "bearer token when the channel requires one")
	probeCmd.Flags().StringVar(&probeFlags.model, "model", "", "also initialize a session with this model reference")
	probeCmd.Flags().DurationVar(&probeFlags.timeout, "timeout", 10*time.Second, "overall timeout")
	rootCmd.AddCommand(probeCmd)
}
