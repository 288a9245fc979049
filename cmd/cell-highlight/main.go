// Command cell-highlight is a worked-example cell (spec.md §4.E+): a
// chroma-backed syntax highlighter invoked by the content pipeline's
// code-sample rendering path over the same RPC session surface a
// tracing cell would use. It demonstrates the full cell-side
// bootstrap contract (spec.md §6 "Process spawn interface"): attach to
// the inherited SHM region, reconstruct the ring pair the host
// allocated in reverse (a cell's send ring is the host's recv ring and
// vice versa), wrap the two inherited doorbell fds, and serve
// Dispatch calls until the host closes the session.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/bearcove/dodeca-sub000/internal/content"
	"github.com/bearcove/dodeca-sub000/internal/doorbell"
	"github.com/bearcove/dodeca-sub000/internal/logging"
	"github.com/bearcove/dodeca-sub000/internal/rpc"
	"github.com/bearcove/dodeca-sub000/internal/shm"
	"github.com/bearcove/dodeca-sub000/internal/supervisor"
)

func main() {
	log := logging.New(logging.Options{Level: "info", Pretty: os.Getenv(supervisor.EnvLogFallback) != ""})

	shmPath := os.Getenv(supervisor.EnvSHMPath)
	peerIDStr := os.Getenv(supervisor.EnvPeerID)
	waitFDStr := os.Getenv(supervisor.EnvDoorbellFD)
	ringFDStr := os.Getenv(supervisor.EnvDoorbellRingFD)
	if shmPath == "" || peerIDStr == "" || waitFDStr == "" || ringFDStr == "" {
		fmt.Fprintf(os.Stderr, "cell-highlight: missing one of %s/%s/%s/%s in environment\n",
			supervisor.EnvSHMPath, supervisor.EnvPeerID, supervisor.EnvDoorbellFD, supervisor.EnvDoorbellRingFD)
		os.Exit(1)
	}

	peerID64, err := strconv.ParseUint(peerIDStr, 10, 32)
	if err != nil {
		log.Fatal().Err(err).Str("value", peerIDStr).Msg("cell-highlight: invalid peer id")
	}
	waitFD, err := strconv.Atoi(waitFDStr)
	if err != nil {
		log.Fatal().Err(err).Str("value", waitFDStr).Msg("cell-highlight: invalid doorbell wait fd")
	}
	ringFD, err := strconv.Atoi(ringFDStr)
	if err != nil {
		log.Fatal().Err(err).Str("value", ringFDStr).Msg("cell-highlight: invalid doorbell ring fd")
	}

	hub, err := shm.Attach(shmPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("cell-highlight: attach to shm region")
	}
	defer hub.Close()

	peerID := uint32(peerID64)
	hostSendOff, hostRecvOff := hub.RingOffsets(peerID)
	region := hub.Region()

	// Roles invert relative to the host: the host's recv ring is what
	// we write into, and the host's send ring is what we read from.
	ourSendRing := shm.NewRing(region, hostRecvOff, hostRecvOff+8, hostRecvOff+16, supervisor.RingCapacity-16)
	ourRecvRing := shm.NewRing(region, hostSendOff, hostSendOff+8, hostSendOff+16, supervisor.RingCapacity-16)

	recvDoorbell := doorbell.New(waitFD) // rung by the host after it writes to hostSendOff
	sendDoorbell := doorbell.New(ringFD) // we ring this to wake the host's reader on hostRecvOff

	sess := rpc.New(ourSendRing, ourRecvRing, sendDoorbell, recvDoorbell, hub.MaxSlotSize(), highlightDispatcher{}, false, log)
	sess.Start()

	log.Info().Uint32("peer_id", peerID).Msg("cell-highlight: ready")

	// The session's receive loop runs until the host closes it (cmd.Wait
	// observing our exit) or we're killed; block forever here rather
	// than polling, since Dispatch is served entirely from goroutines
	// the session itself spawns.
	select {}
}

// highlightDispatcher answers MethodHighlight calls with chroma-rendered
// HTML, and rejects anything else rather than silently no-opping.
type highlightDispatcher struct{}

func (highlightDispatcher) Dispatch(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
	if methodID != content.MethodHighlight {
		return nil, fmt.Errorf("cell-highlight: unknown method id %d", methodID)
	}
	language, code, err := content.DecodeHighlightRequest(payload)
	if err != nil {
		return nil, err
	}
	rendered, err := highlight(language, code)
	if err != nil {
		return nil, err
	}
	return content.EncodeHighlightResponse(rendered), nil
}

func highlight(language, code string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("dracula")
	if style == nil {
		style = styles.Fallback
	}
	formatter := chromahtml.New(chromahtml.WithClasses(true))

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", fmt.Errorf("cell-highlight: tokenise: %w", err)
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return "", fmt.Errorf("cell-highlight: format: %w", err)
	}
	return buf.String(), nil
}
