// Package gemini connects to the Gemini Live API and adapts its sessions
// to the service-neutral protocol types.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/helppeople411-create/rei-voice-pro/internal/audio"
	"github.com/helppeople411-create/rei-voice-pro/internal/protocol"
)

// PlaceholderAPIKey is the value shipped in sample env files
const PlaceholderAPIKey = "PLACEHOLDER_API_KEY"

// ErrMissingAPIKey is returned when no usable API key is configured
var ErrMissingAPIKey = errors.New("Gemini API key is not configured")

// Voices lists the prebuilt voices offered to users
var Voices = []string{"Puck", "Charon", "Kore", "Fenrir", "Zephyr"}

// ValidVoice reports whether name is a known prebuilt voice
func ValidVoice(name string) bool {
	for _, v := range Voices {
		if v == name {
			return true
		}
	}
	return false
}

// Config holds Live session settings
type Config struct {
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string
	InputSampleRate   int
	Tools             []*genai.Tool
}

// Dialer opens Gemini Live sessions
type Dialer struct {
	config Config
	logger *slog.Logger
}

// NewDialer creates a dialer. The API key is checked by Validate, not here.
func NewDialer(config Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	if config.InputSampleRate <= 0 {
		config.InputSampleRate = audio.DefaultInputSampleRate
	}
	return &Dialer{config: config, logger: logger}
}

// Validate checks the credentials and model without dialing
func (d *Dialer) Validate() error {
	key := strings.TrimSpace(d.config.APIKey)
	if key == "" || key == PlaceholderAPIKey {
		return ErrMissingAPIKey
	}
	if d.config.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	return nil
}

// Dial opens a Live session
func (d *Dialer) Dial(ctx context.Context) (protocol.Conn, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	session, err := client.Live.Connect(ctx, d.config.Model, ConnectConfig(d.config))
	if err != nil {
		return nil, fmt.Errorf("failed to open live session: %w", mapError(err))
	}

	d.logger.Info("Opened Gemini Live session",
		slog.String("model", d.config.Model),
		slog.String("voice", d.config.Voice))

	return &Conn{
		session:  session,
		mimeType: audio.MIMEType(d.config.InputSampleRate),
	}, nil
}

// ConnectConfig builds the setup sent when a session opens
func ConnectConfig(config Config) *genai.LiveConnectConfig {
	cc := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		Tools:                    config.Tools,
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if config.Voice != "" {
		cc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: config.Voice},
			},
		}
	}
	if config.SystemInstruction != "" {
		cc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: config.SystemInstruction}},
		}
	}
	return cc
}

// Conn is an open Live session. Writes are serialized because the
// underlying websocket allows a single writer.
type Conn struct {
	session  *genai.Session
	mimeType string

	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// SendAudio streams one PCM frame
func (c *Conn) SendAudio(frame []byte) error {
	if c.closed.Load() {
		return protocol.ErrClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	err := c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: frame, MIMEType: c.mimeType},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", mapError(err))
	}
	return nil
}

// SendToolResponses answers a tool-call batch in one message
func (c *Conn) SendToolResponses(responses []protocol.FunctionResponse) error {
	if c.closed.Load() {
		return protocol.ErrClosed
	}
	if len(responses) == 0 {
		return nil
	}

	out := make([]*genai.FunctionResponse, len(responses))
	for i, r := range responses {
		out[i] = &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: out}); err != nil {
		return fmt.Errorf("failed to send tool responses: %w", mapError(err))
	}
	return nil
}

// Receive blocks for the next server message
func (c *Conn) Receive() (*protocol.ServerMessage, error) {
	msg, err := c.session.Receive()
	if err != nil {
		if c.closed.Load() {
			return nil, protocol.ErrClosed
		}
		return nil, mapError(err)
	}
	return Translate(msg), nil
}

// Close closes the session. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

// Translate converts a Live server message to the protocol form
func Translate(msg *genai.LiveServerMessage) *protocol.ServerMessage {
	out := &protocol.ServerMessage{}
	if msg == nil {
		return out
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
					out.Audio = append(out.Audio, part.InlineData.Data)
				}
			}
		}
		if sc.InputTranscription != nil {
			out.InputText = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			out.OutputText = sc.OutputTranscription.Text
		}
		out.TurnComplete = sc.TurnComplete
		out.Interrupted = sc.Interrupted
	}

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, protocol.FunctionCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
	}

	if msg.GoAway != nil {
		out.GoAway = &protocol.GoAway{TimeLeft: msg.GoAway.TimeLeft}
	}

	return out
}

// mapError converts API status errors into protocol.StatusError
func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &protocol.StatusError{Code: apiErr.Code, Status: apiErr.Status, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &protocol.StatusError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Err: err}
	}
	return err
}
