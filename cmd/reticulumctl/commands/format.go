package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// pathEntryView mirrors internal/server's wire projection of a path table entry.
type pathEntryView struct {
	DestinationHash string `json:"destination_hash"`
	NextHop         string `json:"next_hop_interface"`
	Hops            uint8  `json:"hops"`
}

// peerView mirrors internal/server's wire projection of a discovered peer.
type peerView struct {
	Addr          string `json:"addr"`
	DataPort      uint16 `json:"data_port"`
	LastHeardUnix int64  `json:"last_heard_unix"`
	IsLocalEcho   bool   `json:"is_local_echo"`
}

// conversationView mirrors internal/server's wire projection of a conversation summary.
type conversationView struct {
	PeerHash     string  `json:"peer_hash"`
	MessageCount int     `json:"message_count"`
	UnreadCount  int     `json:"unread_count"`
	LastActivity float64 `json:"last_activity"`
}

// messageView mirrors internal/server's wire projection of a stored message.
type messageView struct {
	Hash      string  `json:"hash"`
	Content   string  `json:"content"`
	Incoming  bool    `json:"incoming"`
	Timestamp float64 `json:"timestamp"`
	State     string  `json:"state"`
}

func formatPaths(paths []pathEntryView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(paths)
	case formatTable:
		return formatPathsTable(paths), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatPeers(peers []peerView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(peers)
	case formatTable:
		return formatPeersTable(peers), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatConversations(convs []conversationView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(convs)
	case formatTable:
		return formatConversationsTable(convs), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatMessages(msgs []messageView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(msgs)
	case formatTable:
		return formatMessagesTable(msgs), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func formatPathsTable(paths []pathEntryView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DESTINATION\tINTERFACE\tHOPS")
	for _, p := range paths {
		fmt.Fprintf(w, "%s\t%s\t%d\n", p.DestinationHash, p.NextHop, p.Hops)
	}
	_ = w.Flush()
	return buf.String()
}

func formatPeersTable(peers []peerView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDR\tDATA-PORT\tLAST-HEARD-UNIX\tLOCAL-ECHO")
	for _, p := range peers {
		fmt.Fprintf(w, "%s\t%d\t%d\t%t\n", p.Addr, p.DataPort, p.LastHeardUnix, p.IsLocalEcho)
	}
	_ = w.Flush()
	return buf.String()
}

func formatConversationsTable(convs []conversationView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tMESSAGES\tUNREAD\tLAST-ACTIVITY")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.0f\n", c.PeerHash, c.MessageCount, c.UnreadCount, c.LastActivity)
	}
	_ = w.Flush()
	return buf.String()
}

func formatMessagesTable(msgs []messageView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HASH\tINCOMING\tTIMESTAMP\tSTATE\tCONTENT")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%t\t%.0f\t%s\t%s\n", m.Hash, m.Incoming, m.Timestamp, m.State, m.Content)
	}
	_ = w.Flush()
	return buf.String()
}
