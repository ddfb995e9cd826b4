package hosttest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/drive"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// ---- upload and patch ----

type multipartBody struct {
	instructions []byte
	metadata     drive.UploadFileMetadata
	payloads     []payloadPart
	thumbnails   []payloadPart
}

type payloadPart struct {
	key         string
	contentType string
	bytes       []byte
}

func readMultipart(r *http.Request) (*multipartBody, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, err
	}

	body := &multipartBody{}
	if v, ok := r.MultipartForm.Value["instructions"]; ok && len(v) > 0 {
		body.instructions = []byte(v[0])
	} else {
		return nil, fmt.Errorf("missing instructions part")
	}
	if v, ok := r.MultipartForm.Value["metaData"]; ok && len(v) > 0 {
		if err := json.Unmarshal([]byte(v[0]), &body.metadata); err != nil {
			return nil, fmt.Errorf("decoding metaData: %w", err)
		}
	} else {
		return nil, fmt.Errorf("missing metaData part")
	}

	for _, name := range []string{"payload", "thumbnail"} {
		for _, fh := range r.MultipartForm.File[name] {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, err
			}
			part := payloadPart{
				key:         fh.Filename,
				contentType: fh.Header.Get("Content-Type"),
				bytes:       data,
			}
			if name == "payload" {
				body.payloads = append(body.payloads, part)
			} else {
				body.thumbnails = append(body.thumbnails, part)
			}
		}
	}
	return body, nil
}

// thumbDimensions splits a "key-WxH" wire name into its payload key and
// pixel sizes. Payload keys may themselves contain dashes.
func thumbDimensions(wireKey string) (key string, width, height int, err error) {
	i := strings.LastIndex(wireKey, "-")
	if i < 0 {
		return "", 0, 0, fmt.Errorf("malformed thumbnail key %q", wireKey)
	}
	key = wireKey[:i]
	dims := strings.SplitN(wireKey[i+1:], "x", 2)
	if len(dims) != 2 {
		return "", 0, 0, fmt.Errorf("malformed thumbnail key %q", wireKey)
	}
	if width, err = strconv.Atoi(dims[0]); err != nil {
		return "", 0, 0, err
	}
	if height, err = strconv.Atoi(dims[1]); err != nil {
		return "", 0, 0, err
	}
	return key, width, height, nil
}

func (h *Host) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := readMultipart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}
	var instructions drive.UploadInstructionSet
	if err := json.Unmarshal(body.instructions, &instructions); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}

	targetDrive := instructions.StorageOptions.Drive
	meta := body.metadata

	h.mu.Lock()
	ds, ok := h.drives[targetDrive]
	if !ok {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, "driveNotFound", "no such drive")
		return
	}

	fileID := instructions.StorageOptions.OverwriteFileID
	var file *storedFile
	if fileID != "" {
		file, ok = ds.files[fileID]
		if !ok {
			h.mu.Unlock()
			writeError(w, http.StatusNotFound, "fileNotFound", "no such file")
			return
		}
		if meta.VersionTag != file.header.FileMetadata.VersionTag {
			h.mu.Unlock()
			writeError(w, http.StatusBadRequest, "versionTagMismatch", "stale version tag")
			return
		}
		if prev := file.header.FileMetadata.AppData.UniqueID; prev != "" {
			delete(ds.byUniqueID, prev)
		}
	} else {
		fileID = newVersionTag()
		file = &storedFile{}
		ds.files[fileID] = file
	}

	versionTag := newVersionTag()
	created := nowMillis()
	if file.header.FileMetadata.Created != 0 {
		created = file.header.FileMetadata.Created
	}

	file.payloads = make(map[string]payloadBlock)
	file.thumbs = make(map[string]payloadBlock)
	descriptors := storeBlocks(file, body.payloads, body.thumbnails)

	file.header = core.FileHeader{
		FileID:                         fileID,
		TargetDrive:                    targetDrive,
		SharedSecretEncryptedKeyHeader: meta.KeyHeader,
		FileMetadata: core.FileMetadata{
			Created:     created,
			Updated:     nowMillis(),
			IsEncrypted: meta.IsEncrypted,
			VersionTag:  versionTag,
			AppData:     meta.AppData,
			Payloads:    descriptors,
		},
		ServerMetadata: &core.ServerMetadata{
			AccessControlList: meta.AccessControlList,
			AllowDistribution: meta.AllowDistribution,
		},
	}
	if uid := meta.AppData.UniqueID; uid != "" {
		ds.byUniqueID[uid] = fileID
	}

	outbound := cloneStoredFile(file)
	var recipients []string
	if instructions.TransitOptions != nil {
		recipients = instructions.TransitOptions.Recipients
	}
	h.mu.Unlock()

	result := drive.UploadResult{
		File:          drive.FileIdentifier{FileID: fileID, TargetDrive: targetDrive},
		NewVersionTag: versionTag,
	}
	if len(recipients) > 0 {
		result.RecipientStatus = h.deliver(recipients, targetDrive, outbound)
	}
	h.writeJSON(w, result)
}

func (h *Host) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := readMultipart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}
	var instructions drive.UpdateInstructionSet
	if err := json.Unmarshal(body.instructions, &instructions); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}

	targetDrive := instructions.File.TargetDrive
	meta := body.metadata

	h.mu.Lock()
	defer h.mu.Unlock()

	ds, ok := h.drives[targetDrive]
	if !ok {
		writeError(w, http.StatusNotFound, "driveNotFound", "no such drive")
		return
	}
	file, ok := ds.files[instructions.File.FileID]
	if !ok {
		writeError(w, http.StatusNotFound, "fileNotFound", "no such file")
		return
	}
	if meta.VersionTag != file.header.FileMetadata.VersionTag {
		writeError(w, http.StatusBadRequest, "versionTagMismatch", "stale version tag")
		return
	}

	mergeAppData(&file.header.FileMetadata.AppData, meta.AppData, len(body.payloads) > 0)
	if meta.KeyHeader != nil {
		file.header.SharedSecretEncryptedKeyHeader = meta.KeyHeader
		file.header.FileMetadata.IsEncrypted = true
	}

	for _, key := range instructions.DeletePayloadKeys {
		delete(file.payloads, key)
		for tk := range file.thumbs {
			if k, _, _, err := thumbDimensions(tk); err == nil && k == key {
				delete(file.thumbs, tk)
			}
		}
	}
	storeBlocks(file, body.payloads, body.thumbnails)
	file.header.FileMetadata.Payloads = rebuildDescriptors(file)

	versionTag := newVersionTag()
	file.header.FileMetadata.VersionTag = versionTag
	file.header.FileMetadata.Updated = nowMillis()

	h.writeJSON(w, drive.UploadResult{
		File:          instructions.File,
		NewVersionTag: versionTag,
	})
}

// mergeAppData applies patch semantics: only fields the patch actually
// carries replace stored values, so a delivery-status annotation does not
// clobber content or encryption state.
func mergeAppData(stored *core.AppFileMetaData, patch core.AppFileMetaData, hasPayloads bool) {
	if patch.FileType != 0 {
		stored.FileType = patch.FileType
	}
	if patch.DataType != 0 {
		stored.DataType = patch.DataType
	}
	if patch.GroupID != "" {
		stored.GroupID = patch.GroupID
	}
	if patch.UniqueID != "" {
		stored.UniqueID = patch.UniqueID
	}
	if patch.UserDate != nil {
		stored.UserDate = patch.UserDate
	}
	if patch.Tags != nil {
		stored.Tags = patch.Tags
	}
	if patch.ArchivalStatus != 0 {
		stored.ArchivalStatus = patch.ArchivalStatus
	}
	if patch.PreviewThumbnail != nil {
		stored.PreviewThumbnail = patch.PreviewThumbnail
	}
	if patch.DeliveryStatus != nil {
		stored.DeliveryStatus = patch.DeliveryStatus
	}
	switch {
	case patch.JSONContent != "":
		stored.JSONContent = patch.JSONContent
		stored.ContentIsComplete = patch.ContentIsComplete
	case hasPayloads:
		// Content moved out of the header into a payload block.
		stored.JSONContent = ""
		stored.ContentIsComplete = false
	}
}

func storeBlocks(file *storedFile, payloads, thumbnails []payloadPart) []core.PayloadDescriptor {
	if file.payloads == nil {
		file.payloads = make(map[string]payloadBlock)
	}
	if file.thumbs == nil {
		file.thumbs = make(map[string]payloadBlock)
	}
	for _, p := range payloads {
		file.payloads[p.key] = payloadBlock{bytes: p.bytes, contentType: p.contentType}
	}
	for _, t := range thumbnails {
		file.thumbs[t.key] = payloadBlock{bytes: t.bytes, contentType: t.contentType}
	}
	return rebuildDescriptors(file)
}

func rebuildDescriptors(file *storedFile) []core.PayloadDescriptor {
	keys := make([]string, 0, len(file.payloads))
	for k := range file.payloads {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	descriptors := make([]core.PayloadDescriptor, 0, len(keys))
	for _, k := range keys {
		block := file.payloads[k]
		d := core.PayloadDescriptor{
			Key:          k,
			ContentType:  block.contentType,
			BytesWritten: int64(len(block.bytes)),
			LastModified: nowMillis(),
		}
		for tk, tb := range file.thumbs {
			key, width, height, err := thumbDimensions(tk)
			if err != nil || key != k {
				continue
			}
			d.Thumbnails = append(d.Thumbnails, core.ThumbnailDescriptor{
				PixelWidth: width, PixelHeight: height, ContentType: tb.contentType,
			})
		}
		sort.Slice(d.Thumbnails, func(i, j int) bool {
			return d.Thumbnails[i].PixelWidth < d.Thumbnails[j].PixelWidth
		})
		descriptors = append(descriptors, d)
	}
	return descriptors
}

// ---- delivery ----

func cloneStoredFile(f *storedFile) *storedFile {
	out := &storedFile{
		header:   f.header,
		payloads: make(map[string]payloadBlock, len(f.payloads)),
		thumbs:   make(map[string]payloadBlock, len(f.thumbs)),
	}
	for k, v := range f.payloads {
		out.payloads[k] = v
	}
	for k, v := range f.thumbs {
		out.thumbs[k] = v
	}
	return out
}

func (h *Host) deliver(recipients []string, targetDrive core.TargetDrive, file *storedFile) map[string]core.TransferStatus {
	h.mu.Lock()
	peers := make(map[string]*Host, len(h.peers))
	for k, v := range h.peers {
		peers[k] = v
	}
	failed := make(map[string]bool, len(h.failRecipients))
	for k := range h.failRecipients {
		failed[k] = true
	}
	h.mu.Unlock()

	status := make(map[string]core.TransferStatus, len(recipients))
	for _, recipient := range recipients {
		if failed[recipient] {
			status[recipient] = core.TransferEnqueuedFailed
			continue
		}
		peer, ok := peers[recipient]
		if !ok || peer == h {
			status[recipient] = core.TransferFailed
			continue
		}
		if err := peer.acceptDelivery(h.identity, h.sharedSecret, targetDrive, file); err != nil {
			status[recipient] = core.TransferFailed
			continue
		}
		status[recipient] = core.TransferDelivered
	}
	return status
}

// acceptDelivery stores a copy of a peer's file on this host, re-wrapping
// its key header under this host's session secret.
func (h *Host) acceptDelivery(sender string, senderSecret []byte, targetDrive core.TargetDrive, file *storedFile) error {
	copied := cloneStoredFile(file)
	copied.header.FileMetadata.SenderOdinID = sender
	copied.header.FileMetadata.VersionTag = newVersionTag()
	copied.header.ServerMetadata = nil

	rewrapped, err := rewrapKeyHeader(copied.header.SharedSecretEncryptedKeyHeader, senderSecret, h.sharedSecret)
	if err != nil {
		return err
	}
	copied.header.SharedSecretEncryptedKeyHeader = rewrapped

	h.mu.Lock()
	defer h.mu.Unlock()
	ds := h.ensureDriveLocked(targetDrive, targetDrive.Alias, "", false)
	ds.files[copied.header.FileID] = copied
	if uid := copied.header.FileMetadata.AppData.UniqueID; uid != "" {
		ds.byUniqueID[uid] = copied.header.FileID
	}
	ds.inboxPending++
	return nil
}

// ---- queries ----

func decodeFilterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			out = append(out, v)
			continue
		}
		out = append(out, string(decoded))
	}
	return out
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func matchesQuery(params drive.FileQueryParams, f *storedFile) bool {
	meta := f.header.FileMetadata
	app := meta.AppData

	if len(params.FileType) > 0 && !containsInt(params.FileType, app.FileType) {
		return false
	}
	if len(params.DataType) > 0 && !containsInt(params.DataType, app.DataType) {
		return false
	}
	if len(params.ArchivalStatus) > 0 && !containsInt(params.ArchivalStatus, app.ArchivalStatus) {
		return false
	}
	if len(params.Sender) > 0 && !containsString(decodeFilterValues(params.Sender), meta.SenderOdinID) {
		return false
	}
	if len(params.GroupID) > 0 && !containsString(decodeFilterValues(params.GroupID), app.GroupID) {
		return false
	}
	if len(params.ClientUniqueIDAtLeastOne) > 0 &&
		!containsString(decodeFilterValues(params.ClientUniqueIDAtLeastOne), app.UniqueID) {
		return false
	}
	if len(params.TagsMatchAtLeastOne) > 0 {
		hit := false
		for _, tag := range decodeFilterValues(params.TagsMatchAtLeastOne) {
			if containsString(app.Tags, tag) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if len(params.TagsMatchAll) > 0 {
		for _, tag := range decodeFilterValues(params.TagsMatchAll) {
			if !containsString(app.Tags, tag) {
				return false
			}
		}
	}
	if params.UserDate != nil {
		if app.UserDate == nil {
			return false
		}
		if *app.UserDate < params.UserDate.Start || *app.UserDate > params.UserDate.End {
			return false
		}
	}
	return true
}

// queryLocked runs a filter over one drive and pages the result. Caller
// holds h.mu.
func (h *Host) queryLocked(params drive.FileQueryParams, opts drive.ResultOptions) (*drive.QueryBatchResponse, error) {
	ds, ok := h.drives[params.TargetDrive]
	if !ok {
		return nil, fmt.Errorf("no such drive")
	}

	matched := make([]*storedFile, 0, len(ds.files))
	for _, f := range ds.files {
		if matchesQuery(params, f) {
			matched = append(matched, f)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].header.FileMetadata, matched[j].header.FileMetadata
		if a.Created != b.Created {
			return a.Created > b.Created
		}
		return matched[i].header.FileID > matched[j].header.FileID
	})

	offset := 0
	if opts.CursorState != "" {
		offset, _ = strconv.Atoi(opts.CursorState)
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	max := opts.MaxRecords
	if max <= 0 {
		max = 100
	}
	end := offset + max
	if end > len(matched) {
		end = len(matched)
	}

	resp := &drive.QueryBatchResponse{
		IncludeMetadataHeader: opts.IncludeMetadataHeader,
		QueryTime:             nowMillis(),
	}
	for _, f := range matched[offset:end] {
		header := f.header
		if !opts.IncludeMetadataHeader {
			header.FileMetadata.AppData.JSONContent = ""
			header.FileMetadata.AppData.PreviewThumbnail = nil
		}
		resp.SearchResults = append(resp.SearchResults, header)
	}
	if end < len(matched) {
		resp.CursorState = strconv.Itoa(end)
	}
	return resp, nil
}

type queryBatchRequest struct {
	QueryParams          drive.FileQueryParams `json:"queryParams"`
	ResultOptionsRequest drive.ResultOptions   `json:"resultOptionsRequest"`
	ResultOptions        drive.ResultOptions   `json:"resultOptions"`
}

func (req *queryBatchRequest) options() drive.ResultOptions {
	if req.ResultOptionsRequest != (drive.ResultOptions{}) {
		return req.ResultOptionsRequest
	}
	return req.ResultOptions
}

func (h *Host) handleQueryBatch(w http.ResponseWriter, r *http.Request) {
	var req queryBatchRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}

	h.mu.Lock()
	resp, err := h.queryLocked(req.QueryParams, req.options())
	h.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusNotFound, "driveNotFound", err.Error())
		return
	}
	h.writeJSON(w, resp)
}

func (h *Host) handleQueryRecent(w http.ResponseWriter, r *http.Request) {
	h.handleQueryBatch(w, r)
}

func (h *Host) handleQueryTag(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := drive.FileQueryParams{
		TargetDrive:         core.TargetDrive{Alias: q.Get("alias"), Type: q.Get("type")},
		TagsMatchAtLeastOne: []string{q.Get("tag")},
	}
	opts := drive.ResultOptions{CursorState: q.Get("cursorState")}
	opts.MaxRecords, _ = strconv.Atoi(q.Get("maxRecords"))
	opts.IncludeMetadataHeader, _ = strconv.ParseBool(q.Get("includeMetadataHeader"))

	h.mu.Lock()
	resp, err := h.queryLocked(params, opts)
	h.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusNotFound, "driveNotFound", err.Error())
		return
	}
	h.writeJSON(w, resp)
}

// ---- headers, payloads, thumbnails, delete ----

func (h *Host) lookupLocked(targetDrive core.TargetDrive, fileID, uniqueID string) *storedFile {
	ds, ok := h.drives[targetDrive]
	if !ok {
		return nil
	}
	if fileID == "" && uniqueID != "" {
		fileID = ds.byUniqueID[uniqueID]
	}
	return ds.files[fileID]
}

func (h *Host) handleGetHeader(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetDrive := core.TargetDrive{Alias: q.Get("alias"), Type: q.Get("type")}

	h.mu.Lock()
	file := h.lookupLocked(targetDrive, q.Get("fileId"), q.Get("uniqueId"))
	var header core.FileHeader
	if file != nil {
		header = file.header
	}
	h.mu.Unlock()

	if file == nil {
		writeError(w, http.StatusNotFound, "fileNotFound", "no such file")
		return
	}
	h.writeJSON(w, header)
}

// writeBlock serves a stored payload or thumbnail block with the decrypt
// headers the client expects, re-wrapping the key envelope when the reader's
// session differs from the writer's.
func writeBlock(w http.ResponseWriter, header core.FileHeader, block payloadBlock,
	fromSecret, toSecret []byte) {

	w.Header().Set(core.HeaderDecryptedContentType, block.contentType)
	if header.FileMetadata.IsEncrypted {
		w.Header().Set(core.HeaderPayloadEncrypted, "True")
		ekh := header.SharedSecretEncryptedKeyHeader
		if len(fromSecret) > 0 && !bytesEqual(fromSecret, toSecret) {
			rewrapped, err := rewrapKeyHeader(ekh, fromSecret, toSecret)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal", err.Error())
				return
			}
			ekh = rewrapped
		}
		if ekh != nil {
			encoded, err := ekh.Encode64()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal", err.Error())
				return
			}
			w.Header().Set(core.HeaderSharedSecretEncHeader64, encoded)
		}
	} else {
		w.Header().Set(core.HeaderPayloadEncrypted, "False")
	}
	_, _ = w.Write(block.bytes)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (h *Host) handleGetPayload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetDrive := core.TargetDrive{Alias: q.Get("alias"), Type: q.Get("type")}

	h.mu.Lock()
	file := h.lookupLocked(targetDrive, q.Get("fileId"), "")
	var (
		header core.FileHeader
		block  payloadBlock
		found  bool
	)
	if file != nil {
		header = file.header
		block, found = file.payloads[q.Get("key")]
	}
	h.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "payloadNotFound", "no such payload")
		return
	}
	writeBlock(w, header, block, h.sharedSecret, h.sharedSecret)
}

func (h *Host) handleGetThumb(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetDrive := core.TargetDrive{Alias: q.Get("alias"), Type: q.Get("type")}
	wireKey := fmt.Sprintf("%s-%sx%s", q.Get("payloadKey"), q.Get("width"), q.Get("height"))

	h.mu.Lock()
	file := h.lookupLocked(targetDrive, q.Get("fileId"), "")
	var (
		header core.FileHeader
		block  payloadBlock
		found  bool
	)
	if file != nil {
		header = file.header
		block, found = file.thumbs[wireKey]
	}
	h.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "thumbnailNotFound", "no such thumbnail")
		return
	}
	writeBlock(w, header, block, h.sharedSecret, h.sharedSecret)
}

func (h *Host) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetDrive := core.TargetDrive{Alias: q.Get("alias"), Type: q.Get("type")}
	fileID := q.Get("fileId")

	h.mu.Lock()
	defer h.mu.Unlock()

	ds, ok := h.drives[targetDrive]
	if !ok {
		writeError(w, http.StatusNotFound, "driveNotFound", "no such drive")
		return
	}
	file, ok := ds.files[fileID]
	if !ok {
		writeError(w, http.StatusNotFound, "fileNotFound", "no such file")
		return
	}
	if uid := file.header.FileMetadata.AppData.UniqueID; uid != "" {
		delete(ds.byUniqueID, uid)
	}
	delete(ds.files, fileID)
	w.WriteHeader(http.StatusOK)
}

// ---- drive management ----

func (h *Host) driveDefinitionsLocked(driveType string) []drive.DriveDefinition {
	out := make([]drive.DriveDefinition, 0, len(h.drives))
	for td, ds := range h.drives {
		if driveType != "" && td.Type != driveType {
			continue
		}
		out = append(out, drive.DriveDefinition{
			Name:                ds.name,
			TargetDriveInfo:     td,
			Metadata:            ds.metadata,
			AllowAnonymousReads: ds.allowAnonymousReads,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetDriveInfo.Alias < out[j].TargetDriveInfo.Alias
	})
	return out
}

type pagedDrivesResponse struct {
	Results []drive.DriveDefinition `json:"results"`
}

func (h *Host) handleListDrives(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	results := h.driveDefinitionsLocked("")
	h.mu.Unlock()
	h.writeJSON(w, pagedDrivesResponse{Results: results})
}

func (h *Host) handleDrivesByType(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	results := h.driveDefinitionsLocked(r.URL.Query().Get("driveType"))
	h.mu.Unlock()
	h.writeJSON(w, pagedDrivesResponse{Results: results})
}

type createDriveRequest struct {
	Name                string           `json:"name"`
	TargetDrive         core.TargetDrive `json:"targetDrive"`
	Metadata            string           `json:"metadata"`
	AllowAnonymousReads bool             `json:"allowAnonymousReads"`
}

func (h *Host) handleCreateDrive(w http.ResponseWriter, r *http.Request) {
	var req createDriveRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}

	h.mu.Lock()
	h.ensureDriveLocked(req.TargetDrive, req.Name, req.Metadata, req.AllowAnonymousReads)
	h.mu.Unlock()
	h.writeJSON(w, map[string]bool{"created": true})
}

// ---- transit relay ----

func (h *Host) peerFor(odinID string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[odinID]
}

type transitQueryBatchRequest struct {
	OdinID               string                `json:"odinId"`
	QueryParams          drive.FileQueryParams `json:"queryParams"`
	ResultOptionsRequest drive.ResultOptions   `json:"resultOptionsRequest"`
}

func (h *Host) handleTransitQueryBatch(w http.ResponseWriter, r *http.Request) {
	var req transitQueryBatchRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}
	peer := h.peerFor(req.OdinID)
	if peer == nil {
		writeError(w, http.StatusBadGateway, "unreachableIdentity", "no route to identity")
		return
	}

	peer.mu.Lock()
	resp, err := peer.queryLocked(req.QueryParams, req.ResultOptionsRequest)
	peer.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusNotFound, "driveNotFound", err.Error())
		return
	}

	for i := range resp.SearchResults {
		resp.SearchResults[i].ServerMetadata = nil
		rewrapped, err := rewrapKeyHeader(resp.SearchResults[i].SharedSecretEncryptedKeyHeader,
			peer.sharedSecret, h.sharedSecret)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		resp.SearchResults[i].SharedSecretEncryptedKeyHeader = rewrapped
	}
	h.writeJSON(w, resp)
}

type transitFileRequest struct {
	OdinID     string               `json:"odinId"`
	File       drive.FileIdentifier `json:"file"`
	Key        string               `json:"key"`
	PayloadKey string               `json:"payloadKey"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
}

// remoteFile resolves a transit request to the peer's stored file, or
// answers the request with an error.
func (h *Host) remoteFile(w http.ResponseWriter, req transitFileRequest) (*Host, *storedFile, bool) {
	peer := h.peerFor(req.OdinID)
	if peer == nil {
		writeError(w, http.StatusBadGateway, "unreachableIdentity", "no route to identity")
		return nil, nil, false
	}

	peer.mu.Lock()
	file := peer.lookupLocked(req.File.TargetDrive, req.File.FileID, "")
	var snapshot *storedFile
	if file != nil {
		snapshot = cloneStoredFile(file)
	}
	peer.mu.Unlock()

	if snapshot == nil {
		writeError(w, http.StatusNotFound, "fileNotFound", "no such file")
		return nil, nil, false
	}
	return peer, snapshot, true
}

func (h *Host) handleTransitHeader(w http.ResponseWriter, r *http.Request) {
	var req transitFileRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}
	peer, file, ok := h.remoteFile(w, req)
	if !ok {
		return
	}

	header := file.header
	header.ServerMetadata = nil
	rewrapped, err := rewrapKeyHeader(header.SharedSecretEncryptedKeyHeader, peer.sharedSecret, h.sharedSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	header.SharedSecretEncryptedKeyHeader = rewrapped
	h.writeJSON(w, header)
}

func (h *Host) handleTransitPayload(w http.ResponseWriter, r *http.Request) {
	var req transitFileRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}
	peer, file, ok := h.remoteFile(w, req)
	if !ok {
		return
	}
	block, found := file.payloads[req.Key]
	if !found {
		writeError(w, http.StatusNotFound, "payloadNotFound", "no such payload")
		return
	}
	writeBlock(w, file.header, block, peer.sharedSecret, h.sharedSecret)
}

func (h *Host) handleTransitThumb(w http.ResponseWriter, r *http.Request) {
	var req transitFileRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}
	peer, file, ok := h.remoteFile(w, req)
	if !ok {
		return
	}
	wireKey := fmt.Sprintf("%s-%dx%d", req.PayloadKey, req.Width, req.Height)
	block, found := file.thumbs[wireKey]
	if !found {
		writeError(w, http.StatusNotFound, "thumbnailNotFound", "no such thumbnail")
		return
	}
	writeBlock(w, file.header, block, peer.sharedSecret, h.sharedSecret)
}

type transitDrivesByTypeRequest struct {
	OdinID    string `json:"odinId"`
	DriveType string `json:"driveType"`
}

func (h *Host) handleTransitDrivesByType(w http.ResponseWriter, r *http.Request) {
	var req transitDrivesByTypeRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}
	peer := h.peerFor(req.OdinID)
	if peer == nil {
		writeError(w, http.StatusBadGateway, "unreachableIdentity", "no route to identity")
		return
	}

	peer.mu.Lock()
	results := peer.driveDefinitionsLocked(req.DriveType)
	peer.mu.Unlock()
	h.writeJSON(w, pagedDrivesResponse{Results: results})
}

type processInboxRequest struct {
	TargetDrive core.TargetDrive `json:"targetDrive"`
}

func (h *Host) handleProcessInbox(w http.ResponseWriter, r *http.Request) {
	var req processInboxRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest", err.Error())
		return
	}

	h.mu.Lock()
	processed := 0
	if ds, ok := h.drives[req.TargetDrive]; ok {
		processed = ds.inboxPending
		ds.inboxPending = 0
	}
	h.mu.Unlock()

	h.writeJSON(w, map[string]int{"totalItemsProcessed": processed})
}
