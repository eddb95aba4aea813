package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Domain operations over Request. All of them are best-effort: a nil or
// empty result means "not available from the cloud", which callers treat
// as "use local storage", never as a hard failure.

// saveFileName normalizes a title to its remote file name.
func saveFileName(gameName string) string {
	if strings.HasSuffix(gameName, ".sav") {
		return gameName
	}
	return gameName + ".sav"
}

// EnsureFolder resolves the reserved saves folder, creating it remotely
// when absent. The id is resolved at most once per process and persisted
// next to the token fields; an auth failure invalidates both.
func (c *Client) EnsureFolder(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.folderID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	query := url.Values{
		"q": {fmt.Sprintf(`mimeType = %q and name=%q`, folderMimeType, c.cfg.FolderName)},
	}
	listURL := c.cfg.APIBase + "/files?" + query.Encode()

	var list FileList
	err := c.requestJSON(ctx, func(token string) (*http.Request, error) {
		return bearerRequest(http.MethodGet, listURL, token, "", nil)
	}, &list)
	if err != nil {
		return "", err
	}

	var folderID string
	if len(list.Files) > 0 {
		folderID = list.Files[0].ID
	} else {
		created, err := c.createFolder(ctx)
		if err != nil {
			return "", err
		}
		folderID = created.ID
	}

	c.mu.Lock()
	c.folderID = folderID
	c.mu.Unlock()
	if err := c.tokens.SaveFolderID(folderID); err != nil {
		c.log.Warn().Err(err).Msg("could not persist folder id")
	}
	return folderID, nil
}

func (c *Client) createFolder(ctx context.Context) (*FileMetadata, error) {
	body, err := json.Marshal(map[string]string{
		"name":     c.cfg.FolderName,
		"mimeType": folderMimeType,
	})
	if err != nil {
		return nil, err
	}

	var created FileMetadata
	err = c.requestJSON(ctx, func(token string) (*http.Request, error) {
		return bearerRequest(http.MethodPost, c.cfg.APIBase+"/files", token, "application/json", body)
	}, &created)
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("folder create returned no id")
	}
	c.log.Info().Str("folderId", created.ID).Msg("created reserved saves folder")
	return &created, nil
}

// SaveInfo queries the save file for a title by its <title>.sav name,
// scoped to the reserved folder unless searchRoot is set. Returns nil
// when no matching file exists.
func (c *Client) SaveInfo(ctx context.Context, gameName string, searchRoot bool) (*FileMetadata, error) {
	folderID, err := c.EnsureFolder(ctx)
	if err != nil {
		return nil, err
	}

	fileName := saveFileName(gameName)
	q := fmt.Sprintf("name = %q", fileName)
	if !searchRoot {
		q += fmt.Sprintf(" and parents in %q", folderID)
	}

	query := url.Values{
		"q":      {q},
		"fields": {"files/id,files/parents,files/name"},
	}
	listURL := c.cfg.APIBase + "/files?" + query.Encode()

	var list FileList
	err = c.requestJSON(ctx, func(token string) (*http.Request, error) {
		return bearerRequest(http.MethodGet, listURL, token, "", nil)
	}, &list)
	if err != nil {
		return nil, err
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return &list.Files[0], nil
}

// GetSave downloads the battery backup for a title. A title with no
// remote save returns an entry with empty Data rather than an error.
func (c *Client) GetSave(ctx context.Context, gameName string) (*SaveEntry, error) {
	info, err := c.SaveInfo(ctx, gameName, false)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return &SaveEntry{GameName: gameName, Data: []byte{}}, nil
	}

	downloadURL := fmt.Sprintf("%s/files/%s?alt=media", c.cfg.APIBase, info.ID)
	data, err := c.Request(ctx, func(token string) (*http.Request, error) {
		return bearerRequest(http.MethodGet, downloadURL, token, "", nil)
	})
	if err != nil {
		return nil, err
	}
	return &SaveEntry{GameName: gameName, Data: data}, nil
}

// ListSaves returns summaries of every file under the reserved folder.
func (c *Client) ListSaves(ctx context.Context) ([]SaveEntry, error) {
	folderID, err := c.EnsureFolder(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{"q": {fmt.Sprintf("parents in %q", folderID)}}
	listURL := c.cfg.APIBase + "/files?" + query.Encode()

	var list FileList
	err = c.requestJSON(ctx, func(token string) (*http.Request, error) {
		return bearerRequest(http.MethodGet, listURL, token, "", nil)
	}, &list)
	if err != nil {
		return nil, err
	}

	entries := make([]SaveEntry, 0, len(list.Files))
	for _, file := range list.Files {
		entries = append(entries, SaveEntry{GameName: file.Name})
	}
	return entries, nil
}

// UploadSave stores the battery backup for a title. An existing file is
// overwritten in place by id; a new file goes up in two phases: upload
// the bytes, then patch the metadata to name it and move it into the
// reserved folder by swapping its parents. The lookup is root-wide so a
// file parked outside the folder by an interrupted two-phase upload gets
// overwritten instead of duplicated.
func (c *Client) UploadSave(ctx context.Context, gameName string, data []byte) error {
	info, err := c.SaveInfo(ctx, gameName, true)
	if err != nil {
		return err
	}

	if info != nil {
		overwriteURL := fmt.Sprintf("%s/files/%s?uploadType=media", c.cfg.UploadBase, info.ID)
		_, err := c.Request(ctx, func(token string) (*http.Request, error) {
			return bearerRequest(http.MethodPatch, overwriteURL, token, saveMimeType, data)
		})
		return err
	}

	// Phase one: upload the raw bytes.
	createURL := c.cfg.UploadBase + "/files?uploadType=media&fields=id,name,parents"
	var created FileMetadata
	err = c.requestJSON(ctx, func(token string) (*http.Request, error) {
		return bearerRequest(http.MethodPost, createURL, token, saveMimeType, data)
	}, &created)
	if err != nil {
		return err
	}
	if created.ID == "" {
		return fmt.Errorf("upload returned no file id")
	}

	// Phase two: name it and move it into the reserved folder.
	folderID, err := c.EnsureFolder(ctx)
	if err != nil {
		return err
	}

	patch, err := json.Marshal(map[string]string{
		"name":     saveFileName(gameName),
		"mimeType": saveMimeType,
	})
	if err != nil {
		return err
	}

	query := url.Values{
		"addParents":    {folderID},
		"removeParents": {strings.Join(created.Parents, ",")},
	}
	patchURL := fmt.Sprintf("%s/files/%s?%s", c.cfg.APIBase, created.ID, query.Encode())

	_, err = c.Request(ctx, func(token string) (*http.Request, error) {
		return bearerRequest(http.MethodPatch, patchURL, token, "application/json", patch)
	})
	return err
}

// DeleteSave removes a title's remote save file. Returns false when no
// such file exists.
func (c *Client) DeleteSave(ctx context.Context, gameName string) (bool, error) {
	info, err := c.SaveInfo(ctx, gameName, false)
	if err != nil {
		return false, err
	}
	if info == nil {
		return false, nil
	}

	deleteURL := fmt.Sprintf("%s/files/%s", c.cfg.APIBase, info.ID)
	_, err = c.Request(ctx, func(token string) (*http.Request, error) {
		return bearerRequest(http.MethodDelete, deleteURL, token, "", nil)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func bearerRequest(method, rawURL, token, contentType string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}
