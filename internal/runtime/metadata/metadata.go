package metadata

// Header keys attached to every published event. They end up as AMQP headers
// so consumers can route or filter without decoding the body.
const (
	KeyCorrelationID = "correlation_id"
	KeyAgentID       = "agent_id"
	KeyHookType      = "hook_type"
	KeyToolName      = "tool_name"
	KeyGitRoot       = "git_root"
	KeyBranch        = "branch"
	KeyRemoteURL     = "remote_url"
	KeyFileExt       = "file_ext"
)

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

// With returns a copy of the metadata containing the provided key/value
// pair. Empty values are skipped so optional fields never produce blank
// headers.
func (m Metadata) With(key, value string) Metadata {
	cloned := make(Metadata, len(m)+1)
	for k, v := range m {
		cloned[k] = v
	}
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs, skipping
// pairs with an empty value.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
