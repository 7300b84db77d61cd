package query

import (
	"bytes"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var (
	oobPrefix            = []byte("\xff\xff\xff\xff")
	statusResponseHeader = "statusResponse"
	errNotStatusResponse = errors.New("not a statusResponse datagram")
	colourCode           = regexp.MustCompile(`\^[0-9]`)
)

// ClientLine is one `score ping "name"` entry of a statusResponse.
type ClientLine struct {
	Name  string
	Score int
	Ping  int
}

// StripColours removes ^0-^9 colour codes from a player name.
func StripColours(s string) string {
	return colourCode.ReplaceAllString(s, "")
}

// ParseClientLine parses `score ping "name"`. Lines that do not reduce to
// exactly two quote-delimited tokens, or whose first token is not exactly two
// whitespace-separated fields, are rejected. Score and ping fall back to 0.
func ParseClientLine(line string) (ClientLine, bool) {
	tokens := nonEmpty(strings.Split(strings.TrimSpace(line), `"`))
	if len(tokens) != 2 {
		return ClientLine{}, false
	}

	fields := strings.Fields(tokens[0])
	if len(fields) != 2 {
		return ClientLine{}, false
	}

	return ClientLine{
		Name:  StripColours(tokens[1]),
		Score: atoi(fields[0]),
		Ping:  atoi(fields[1]),
	}, true
}

// ParseInfoString splits a `\key\value\key\value` info string.
func ParseInfoString(s string) map[string]string {
	info := make(map[string]string)
	keyValues := strings.Split(strings.TrimPrefix(s, `\`), `\`)
	for i := 0; i < len(keyValues)-1; i += 2 {
		info[keyValues[i]] = keyValues[i+1]
	}
	return info
}

// ParseStatusResponse decodes a raw statusResponse datagram.
func ParseStatusResponse(data []byte) (*StatusResponse, error) {
	data = bytes.TrimPrefix(data, oobPrefix)
	lines := strings.Split(strings.TrimRight(string(data), "\x00"), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != statusResponseHeader {
		return nil, errNotStatusResponse
	}

	resp := &StatusResponse{
		Info:    ParseInfoString(lines[1]),
		Clients: []string{},
	}
	for _, line := range lines[2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		resp.Clients = append(resp.Clients, line)
	}
	return resp, nil
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
