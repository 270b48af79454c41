package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"dmchat/internal/api"
	"dmchat/internal/config"
	"dmchat/internal/models"
)

// ParseIdentity reads "id,email,name[,avatar]".
func ParseIdentity(line string) (models.Identity, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 3 || len(parts) > 4 {
		return models.Identity{}, fmt.Errorf("expected id,email,name[,avatar], got %q", line)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	id := models.Identity{ID: parts[0], Email: parts[1], Name: parts[2]}
	if len(parts) == 4 {
		id.Avatar = parts[3]
	}
	return id, nil
}

// SyncUser pushes an identity to the running server through the admin API.
func SyncUser(line string, cfg *config.Config) error {
	identity, err := ParseIdentity(line)
	if err != nil {
		return err
	}

	reqBody, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/users", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to sync user (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.SyncUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nUser Synced Successfully!\n")
	fmt.Printf("User ID:  %s\n", result.UserID)
	fmt.Printf("Email:    %s\n", identity.Email)
	fmt.Printf("Name:     %s\n\n", identity.Name)
	return nil
}
