package data_portal

// LoginResult is the backend's response to a successful login.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	IsAdmin     bool   `json:"is_admin"`
}

// FileInfo describes a single entry in a remote directory listing.
type FileInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	IsFile   bool   `json:"is_file"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

// FileListing is the backend's response to a directory listing request. Path is
// the (decrypted) path the listing is for, which may differ from the requested
// path, e.g. when requesting the root.
type FileListing struct {
	Files []FileInfo `json:"files"`
	Path  string     `json:"path"`
}

// PendingUser is a registered user awaiting admin approval.
type PendingUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// APIKey describes an issued API key. The key material itself is only ever
// returned once, by Client.CreateKey.
type APIKey struct {
	KeyID      string `json:"key_id"`
	Name       string `json:"name"`
	CreatedAt  string `json:"created_at"`
	ExpiryDate string `json:"expiry_date"`
	LastUsed   string `json:"last_used"`
}

// Profile is the user profile object as fetched from and sent to the backend.
type Profile struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	FullName     string `json:"full_name,omitempty"`
	Organization string `json:"organization,omitempty"`
}
