package bridge

import (
	"encoding/json"
	"strings"

	"github.com/callgrid/voicegate/tools"
)

// upstreamEvent is the envelope for every event the realtime voice API
// emits. Only the fields relevant to the event's type are populated.
type upstreamEvent struct {
	Type string `json:"type"`

	Session *struct {
		ID string `json:"id"`
	} `json:"session,omitempty"`

	// input_audio_buffer.speech_started
	AudioStartMS int64 `json:"audio_start_ms,omitempty"`

	// transcription.completed / audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// response.audio.delta: base64 audio
	Delta string `json:"delta,omitempty"`

	// response.function_call_arguments.done
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Response *struct {
		ID            string          `json:"id"`
		StatusDetails json.RawMessage `json:"status_details,omitempty"`
	} `json:"response,omitempty"`

	Error json.RawMessage `json:"error,omitempty"`
}

// audioAppend is the outbound audio frame for the upstream API.
type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func newAudioAppend(audioB64 string) []byte {
	b, _ := json.Marshal(audioAppend{Type: "input_audio_buffer.append", Audio: audioB64})
	return b
}

// functionCallOutput reports a tool result back to the model.
type functionCallOutput struct {
	Type string `json:"type"`
	Item struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Output string `json:"output"`
	} `json:"item"`
}

func newFunctionCallOutput(callID, output string) functionCallOutput {
	var out functionCallOutput
	out.Type = "conversation.item.create"
	out.Item.Type = "function_call_output"
	out.Item.CallID = callID
	out.Item.Output = output
	return out
}

// telephonyInbound is the media frame shape the telephony provider streams
// to the gateway.
type telephonyInbound struct {
	Kind      string `json:"kind"`
	AudioData *struct {
		Data   string `json:"data"`
		Silent bool   `json:"silent"`
	} `json:"audioData,omitempty"`
}

// clientFrame is the JSON envelope sent back to the connected client. The
// telephony provider requires the AudioData/StopAudio fields to always be
// present, null when unused.
type clientFrame struct {
	Kind      string           `json:"Kind"`
	AudioData *clientAudioData `json:"AudioData"`
	StopAudio *struct{}        `json:"StopAudio"`
	Text      string           `json:"Text,omitempty"`
}

type clientAudioData struct {
	Data string `json:"Data"`
}

func newAudioDataFrame(audioB64 string) clientFrame {
	return clientFrame{Kind: "AudioData", AudioData: &clientAudioData{Data: audioB64}}
}

func newStopAudioFrame() clientFrame {
	return clientFrame{Kind: "StopAudio", StopAudio: &struct{}{}}
}

func newTranscriptionFrame(text string) clientFrame {
	return clientFrame{Kind: "Transcription", Text: text}
}

// sessionUpdate builds the session configuration sent right after the
// upstream socket opens: assistant instructions, voice and turn-detection
// settings, and the declarations for every registered tool.
func sessionUpdate(reg *tools.Registry) map[string]any {
	names := reg.Names()
	instructions := strings.Join([]string{
		"You are a helpful AI assistant for a customer service call center.",
		"You have access to the following tools to help customers: " + strings.Join(names, ", ") + ".",
		"Use these tools proactively when appropriate based on the customer's needs. For example:",
		"- Use 'send_email_summary' when the customer wants to receive a summary or when the call is ending",
		"- Use 'book_appointment' when the customer wants to schedule a meeting",
		"- Use 'lookup_information' when asked about policies, hours, or company info",
		"- Use 'check_order_status' when the customer asks about their order",
		"Always be polite, professional, and helpful.",
	}, "\n")

	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"instructions": instructions,
			"turn_detection": map[string]any{
				"type":                 "azure_semantic_vad",
				"threshold":            0.3,
				"prefix_padding_ms":    200,
				"silence_duration_ms":  200,
				"remove_filler_words":  false,
				"end_of_utterance_detection": map[string]any{
					"model":     "semantic_detection_v1",
					"threshold": 0.01,
					"timeout":   2,
				},
			},
			"input_audio_noise_reduction":    map[string]any{"type": "azure_deep_noise_suppression"},
			"input_audio_echo_cancellation":  map[string]any{"type": "server_echo_cancellation"},
			"voice": map[string]any{
				"name":        "en-US-Aria:DragonHDLatestNeural",
				"type":        "azure-standard",
				"temperature": 0.8,
			},
			"tools":       reg.Declarations(),
			"tool_choice": "auto",
		},
	}
}
