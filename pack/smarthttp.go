package pack

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/guts-org/guts-node/objstore"
	"github.com/guts-org/guts-node/refstore"
)

// Capabilities advertised by every ref-advertisement response. Multi-ack
// and common-ancestor negotiation are not implemented — upload-pack
// always responds NAK (spec §9 open question).
const Capabilities = "report-status delete-refs side-band-64k quiet ofs-delta agent=guts/1.0"

// AdvertiseRefs writes the ref-advertisement response for service
// ("git-upload-pack" or "git-receive-pack"): the service announcement
// line, the first ref (HEAD's target, or the empty-repo placeholder),
// every other direct reference, then a flush.
func AdvertiseRefs(w *bytes.Buffer, service string, refs *refstore.RefStore) error {
	if err := EncodeLine(w, []byte(fmt.Sprintf("# service=%s\n", service))); err != nil {
		return err
	}
	if err := EncodeFlush(w); err != nil {
		return err
	}

	direct := refs.ListAllDirect()
	headID, headErr := refs.ResolveHEAD()

	if headErr != nil || len(direct) == 0 {
		line := fmt.Sprintf("%s capabilities^{}\x00%s\n", objstore.ZeroID, Capabilities)
		if err := EncodeLine(w, []byte(line)); err != nil {
			return err
		}
		return EncodeFlush(w)
	}

	first := fmt.Sprintf("%s HEAD\x00%s\n", headID, Capabilities)
	if err := EncodeLine(w, []byte(first)); err != nil {
		return err
	}
	for _, ref := range direct {
		line := fmt.Sprintf("%s %s\n", ref.ID, ref.Name)
		if err := EncodeLine(w, []byte(line)); err != nil {
			return err
		}
	}
	return EncodeFlush(w)
}

// WantsHaves is the parsed negotiation request from an upload-pack
// client.
type WantsHaves struct {
	Wants []objstore.ObjectID
	Haves []objstore.ObjectID
}

// ParseUploadPackRequest reads "want <id>" lines, a flush, "have <id>"
// lines, and a trailing "done" line from the client's request body.
func ParseUploadPackRequest(r *bufio.Reader) (WantsHaves, error) {
	var wh WantsHaves
	for {
		line, err := DecodeLine(r)
		if err != nil {
			return wh, err
		}
		if line.IsFlush() {
			break
		}
		text := strings.TrimSuffix(string(line.Payload), "\n")
		if id, ok := strings.CutPrefix(text, "want "); ok {
			id, _, _ = strings.Cut(id, " ") // drop capability suffix on the first want
			wh.Wants = append(wh.Wants, objstore.ObjectID(id))
		}
	}
	for {
		line, err := DecodeLine(r)
		if err != nil {
			return wh, err
		}
		if line.IsFlush() {
			continue
		}
		text := strings.TrimSuffix(string(line.Payload), "\n")
		if text == "done" {
			break
		}
		if id, ok := strings.CutPrefix(text, "have "); ok {
			wh.Haves = append(wh.Haves, objstore.ObjectID(id))
		}
	}
	return wh, nil
}

// ReachableObjects walks commit parents, commit trees, and tree entries
// transitively from wants, excluding anything in haveSet (or already
// visited), and returns the full object set to pack.
func ReachableObjects(store objstore.Store, wants, haves []objstore.ObjectID) ([]*objstore.GitObject, error) {
	have := make(map[objstore.ObjectID]struct{}, len(haves))
	for _, id := range haves {
		have[id] = struct{}{}
	}
	visited := make(map[objstore.ObjectID]struct{})
	var result []*objstore.GitObject
	var stack []objstore.ObjectID
	stack = append(stack, wants...)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := have[id]; ok {
			continue
		}
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		obj, err := store.Get(id)
		if err != nil {
			continue // unknown objects are omitted per the upload-pack contract
		}
		result = append(result, obj)
		switch obj.ObjType {
		case objstore.TypeCommit:
			tree, parents, err := objstore.CommitRefs(obj.Data)
			if err != nil {
				return nil, fmt.Errorf("pack: walk commit %s: %w", id, err)
			}
			stack = append(stack, tree)
			stack = append(stack, parents...)
		case objstore.TypeTree:
			entries, err := objstore.TreeEntries(obj.Data)
			if err != nil {
				return nil, fmt.Errorf("pack: walk tree %s: %w", id, err)
			}
			stack = append(stack, entries...)
		}
	}
	return result, nil
}

// WriteSideBandPack writes NAK, then the pack bytes chunked onto
// side-band channel 1 in pieces no larger than MaxPayload-1 (the channel
// byte consumes one byte of the payload), then a flush.
func WriteSideBandPack(w *bytes.Buffer, packBytes []byte) error {
	if err := EncodeLine(w, []byte("NAK\n")); err != nil {
		return err
	}
	const chunkSize = MaxPayload - 1
	for off := 0; off < len(packBytes); off += chunkSize {
		end := off + chunkSize
		if end > len(packBytes) {
			end = len(packBytes)
		}
		payload := append([]byte{1}, packBytes[off:end]...) // channel 1: pack data
		if err := EncodeLine(w, payload); err != nil {
			return err
		}
	}
	return EncodeFlush(w)
}

// Command is one parsed receive-pack ref-update line: "<old> <new> <ref>".
type Command struct {
	OldID   objstore.ObjectID
	NewID   objstore.ObjectID
	RefName string
}

// ParseReceivePackCommands reads ref-update pkt-lines up to the flush
// that separates them from the pack body. The first line may carry a
// capability suffix after a NUL byte.
func ParseReceivePackCommands(r *bufio.Reader) ([]Command, error) {
	var cmds []Command
	first := true
	for {
		line, err := DecodeLine(r)
		if err != nil {
			return cmds, err
		}
		if line.IsFlush() {
			return cmds, nil
		}
		text := strings.TrimSuffix(string(line.Payload), "\n")
		if first {
			if nul := strings.IndexByte(text, 0); nul >= 0 {
				text = text[:nul]
			}
			first = false
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return cmds, fmt.Errorf("pack: malformed receive-pack command %q", text)
		}
		cmds = append(cmds, Command{
			OldID:   objstore.ObjectID(fields[0]),
			NewID:   objstore.ObjectID(fields[1]),
			RefName: fields[2],
		})
	}
}

// ApplyReceivePackCommands applies each command: delete the ref when
// NewID is the zero ID, otherwise set it. Returns a per-ref ok/error
// report suitable for the report-status response.
func ApplyReceivePackCommands(refs *refstore.RefStore, cmds []Command) map[string]error {
	report := make(map[string]error, len(cmds))
	for _, c := range cmds {
		if c.NewID == objstore.ZeroID {
			refs.Delete(c.RefName)
			report[c.RefName] = nil
			continue
		}
		report[c.RefName] = refs.Set(c.RefName, c.NewID)
	}
	return report
}

// WriteReportStatus writes the report-status response: "unpack ok" (or
// the given unpack error), then one "ok <ref>"/"ng <ref> <reason>" line
// per command, then a flush.
func WriteReportStatus(w *bytes.Buffer, unpackErr error, report map[string]error, order []string) error {
	if unpackErr != nil {
		if err := EncodeLine(w, []byte(fmt.Sprintf("unpack %s\n", unpackErr.Error()))); err != nil {
			return err
		}
	} else if err := EncodeLine(w, []byte("unpack ok\n")); err != nil {
		return err
	}
	for _, ref := range order {
		var line string
		if err := report[ref]; err != nil {
			line = fmt.Sprintf("ng %s %s\n", ref, err.Error())
		} else {
			line = fmt.Sprintf("ok %s\n", ref)
		}
		if err := EncodeLine(w, []byte(line)); err != nil {
			return err
		}
	}
	return EncodeFlush(w)
}
