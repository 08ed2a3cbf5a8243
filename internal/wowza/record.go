package wowza

import "encoding/json"

// Provider state sentinels. Only these exact values are treated as
// authoritative by the session registry; any other state is reported to the
// caller without a transition.
const (
	StateStarted  = "started"
	StateStarting = "starting"
	StateStopped  = "stopped"
)

// EmbedCodeInProgress is returned by the provider while the hosted player is
// still being provisioned.
const EmbedCodeInProgress = "in_progress"

// Record is the typed projection of the handful of live-stream response
// fields the session registry consumes. Fields missing from a response are
// left as zero values rather than failing the parse.
type Record struct {
	ID            string
	Name          string
	State         string
	EmbedCode     string
	PlaybackURL   string
	CreatedAt     string
	PrimaryServer string
	StreamName    string
	Username      string
	Password      string
}

// liveStreamEnvelope mirrors the provider's nested JSON shape. The projection
// replaces the original dotted-path walker with a fixed struct so that a
// renamed field shows up as a zero value, not a typo-prone path miss.
type liveStreamEnvelope struct {
	LiveStream struct {
		ID                   string `json:"id"`
		Name                 string `json:"name"`
		State                string `json:"state"`
		EmbedCode            string `json:"embed_code"`
		PlayerHLSPlaybackURL string `json:"player_hls_playback_url"`
		CreatedAt            string `json:"created_at"`
		SourceConnection     struct {
			PrimaryServer string `json:"primary_server"`
			StreamName    string `json:"stream_name"`
			Username      string `json:"username"`
			Password      string `json:"password"`
		} `json:"source_connection_information"`
	} `json:"live_stream"`
}

func parseRecord(body []byte) (Record, error) {
	var envelope liveStreamEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Record{}, err
	}
	stream := envelope.LiveStream
	return Record{
		ID:            stream.ID,
		Name:          stream.Name,
		State:         stream.State,
		EmbedCode:     stream.EmbedCode,
		PlaybackURL:   stream.PlayerHLSPlaybackURL,
		CreatedAt:     stream.CreatedAt,
		PrimaryServer: stream.SourceConnection.PrimaryServer,
		StreamName:    stream.SourceConnection.StreamName,
		Username:      stream.SourceConnection.Username,
		Password:      stream.SourceConnection.Password,
	}, nil
}

// Ready reports whether provisioning has completed and the hosted player
// metadata is available.
func (r Record) Ready() bool {
	return r.EmbedCode != "" && r.EmbedCode != EmbedCodeInProgress
}

// Started reports whether the provider confirmed the stream is live.
func (r Record) Started() bool {
	return r.State == StateStarted
}

// Stopped reports whether the provider confirmed the stream is stopped.
func (r Record) Stopped() bool {
	return r.State == StateStopped
}
