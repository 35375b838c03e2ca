package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiDialer connects to the Gemini Live API. The session speaks the
// same Event vocabulary as the other dialers, so the bridge does not care
// which backend is behind it.
type GeminiDialer struct {
	APIKey string
	Model  string
	Logger *slog.Logger
}

type geminiSession struct {
	session *genai.Session
	logger  *slog.Logger
	events  chan Event
	done    chan struct{}
	mime    string
	localTD bool
}

func (d *GeminiDialer) Dial(ctx context.Context, cfg SessionConfig) (Session, error) {
	if d == nil || strings.TrimSpace(d.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	model := strings.TrimSpace(d.Model)
	if model == "" {
		model = "gemini-2.0-flash-live-001"
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	connectCfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.Instructions != "" {
		connectCfg.SystemInstruction = genai.NewContentFromText(cfg.Instructions, genai.RoleUser)
	}
	if cfg.Voice != "" {
		connectCfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	localTD := cfg.TurnDetection == nil
	if localTD {
		// The bridge runs its own voice activity detection, so endpoint
		// detection must be off or turns would be committed twice.
		connectCfg.RealtimeInputConfig = &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{Disabled: true},
		}
	}

	session, err := client.Live.Connect(ctx, model, connectCfg)
	if err != nil {
		return nil, fmt.Errorf("connect gemini live: %w", err)
	}

	s := &geminiSession{
		session: session,
		logger:  logger,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		mime:    "audio/pcm;rate=24000",
		localTD: localTD,
	}
	go s.receiveLoop()
	return s, nil
}

func (s *geminiSession) receiveLoop() {
	defer close(s.done)
	defer close(s.events)

	var (
		turnOpen   bool
		transcript strings.Builder
	)
	for {
		msg, err := s.session.Receive()
		if err != nil {
			s.emit(ErrorEvent{Message: fmt.Sprintf("gemini live receive: %v", err)})
			return
		}
		content := msg.ServerContent
		if content == nil {
			continue
		}
		if content.Interrupted {
			s.emit(SpeechStarted{})
			turnOpen = false
			transcript.Reset()
			continue
		}
		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				if part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				if !turnOpen {
					turnOpen = true
					s.emit(ResponseStarted{ID: uuid.NewString()})
				}
				s.emit(AudioDelta{ItemID: "", Audio: part.InlineData.Data})
			}
		}
		if content.OutputTranscription != nil {
			transcript.WriteString(content.OutputTranscription.Text)
		}
		if content.TurnComplete {
			if text := strings.TrimSpace(transcript.String()); text != "" {
				s.emit(TranscriptDone{Text: text})
			}
			transcript.Reset()
			turnOpen = false
			s.emit(ResponseDone{})
		}
	}
}

func (s *geminiSession) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func (s *geminiSession) Events() <-chan Event { return s.events }

func (s *geminiSession) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: frame, MIMEType: s.mime},
	})
}

// Commit ends the user activity window. Gemini streams its response as
// soon as the turn closes, so there is no separate response request.
func (s *geminiSession) Commit() error {
	if !s.localTD {
		return nil
	}
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		ActivityEnd: &genai.ActivityEnd{},
	})
}

// CancelResponse is a no-op: Gemini aborts generation itself when new
// user activity arrives, and reports it with an Interrupted message.
func (s *geminiSession) CancelResponse() error { return nil }

// Truncate has no Gemini equivalent; the endpoint keeps no per-item
// audio position.
func (s *geminiSession) Truncate(string, int64) error { return nil }

func (s *geminiSession) ClearInput() error { return nil }

func (s *geminiSession) Greet() error {
	return s.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText("Hello", genai.RoleUser)},
		TurnComplete: genai.Ptr(true),
	})
}

func (s *geminiSession) Close() error {
	err := s.session.Close()
	<-s.done
	return err
}
