package seedr

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ItemKind distinguishes entries in a folder listing
type ItemKind string

const (
	KindFolder   ItemKind = "folder"
	KindFile     ItemKind = "file"
	KindTransfer ItemKind = "torrent"
)

// Item is a normalized entry of a remote listing
type Item struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     ItemKind `json:"kind"`
	Progress float64  `json:"progress"`
	Hash     string   `json:"hash,omitempty"`
	Size     int64    `json:"size,omitempty"`
}

// Listing is the content of one remote folder in backend order
type Listing struct {
	Folders   []Item `json:"folders"`
	Files     []Item `json:"files"`
	Transfers []Item `json:"transfers"`
}

// Empty reports whether the folder holds nothing at all
func (l *Listing) Empty() bool {
	return len(l.Folders) == 0 && len(l.Files) == 0 && len(l.Transfers) == 0
}

// SubmitResult is the normalized answer to a job submission
type SubmitResult struct {
	Accepted   bool
	TransferID string
	Title      string
	Hash       string
	Reason     string
}

// StreamURL is the resolved playback address of a file
type StreamURL struct {
	URL string `json:"url"`
}

// flexString decodes a JSON string or number into a string
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte("false")) {
		*f = flexString(data)
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexFloat decodes a JSON number or numeric string. Unparseable strings
// decode as zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(string(s)), "%"), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// flexBool is true for JSON true, "true", or a non-zero number
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		// objects and arrays count as absent
		*f = false
		return nil
	}
	switch strings.ToLower(string(s)) {
	case "true", "ok":
		*f = true
	case "", "false", "0":
		*f = false
	default:
		n, err := strconv.ParseFloat(string(s), 64)
		*f = flexBool(err == nil && n != 0)
	}
	return nil
}

type wireItem struct {
	ID           flexString `json:"id"`
	FolderFileID flexString `json:"folder_file_id"`
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	Fullname     string     `json:"fullname"`
	Title        string     `json:"title"`
	Progress     flexFloat  `json:"progress"`
	Hash         string     `json:"hash"`
	Size         flexFloat  `json:"size"`
}

type wireListing struct {
	Folders   []wireItem `json:"folders"`
	Files     []wireItem `json:"files"`
	Torrents  []wireItem `json:"torrents"`
	Transfers []wireItem `json:"transfers"`
	Error     string     `json:"error"`
}

type wireSubmit struct {
	Success       flexBool   `json:"success"`
	Result        flexBool   `json:"result"`
	UserTorrentID flexString `json:"user_torrent_id"`
	Title         string     `json:"title"`
	TorrentHash   string     `json:"torrent_hash"`
	Error         string     `json:"error"`
	Reason        string     `json:"reason"`
}

type wireStreamURL struct {
	URL string `json:"url"`
}

type wireLogin struct {
	Success flexBool `json:"success"`
	Cookies []string `json:"cookies"`
	Error   string   `json:"error"`
}

func (w wireItem) normalize(kind ItemKind) Item {
	id := string(w.ID)
	if id == "" {
		id = string(w.FolderFileID)
	}

	var name string
	if kind == KindFolder {
		name = firstNonEmpty(w.Path, w.Name, w.Fullname, w.Title)
	} else {
		name = firstNonEmpty(w.Name, w.Title, w.Fullname, w.Path)
	}

	progress := float64(w.Progress)
	switch {
	case kind != KindTransfer:
		progress = 100
	case progress < 0:
		progress = 0
	case progress > 100:
		progress = 100
	}

	return Item{
		ID:       id,
		Name:     name,
		Kind:     kind,
		Progress: progress,
		Hash:     strings.ToLower(w.Hash),
		Size:     int64(w.Size),
	}
}

func (w wireListing) normalize() *Listing {
	l := &Listing{
		Folders:   make([]Item, 0, len(w.Folders)),
		Files:     make([]Item, 0, len(w.Files)),
		Transfers: make([]Item, 0, len(w.Torrents)+len(w.Transfers)),
	}
	for _, it := range w.Folders {
		l.Folders = append(l.Folders, it.normalize(KindFolder))
	}
	for _, it := range w.Files {
		l.Files = append(l.Files, it.normalize(KindFile))
	}
	for _, it := range w.Torrents {
		l.Transfers = append(l.Transfers, it.normalize(KindTransfer))
	}
	for _, it := range w.Transfers {
		l.Transfers = append(l.Transfers, it.normalize(KindTransfer))
	}
	return l
}

func (w wireSubmit) normalize() *SubmitResult {
	res := &SubmitResult{
		Accepted:   bool(w.Success) || bool(w.Result) || w.UserTorrentID != "",
		TransferID: string(w.UserTorrentID),
		Title:      w.Title,
		Hash:       strings.ToLower(w.TorrentHash),
	}
	if !res.Accepted {
		res.Reason = firstNonEmpty(w.Error, w.Reason, "backend refused the job")
	}
	return res
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
