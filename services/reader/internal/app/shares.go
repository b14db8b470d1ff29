package app

import (
	"context"
	"fmt"
	"time"

	"pdfreader/pkg/auth"
	"pdfreader/pkg/domain"
)

const maxShareHours = 24 * 365

// CreateShareInput configures a new read-only link.
type CreateShareInput struct {
	Password       string `json:"password"`
	ExpiresInHours int    `json:"expiresInHours"`
}

// ShareView is a link as shown to its owner.
type ShareView struct {
	domain.ShareLink
	HasPassword bool `json:"hasPassword"`
	Active      bool `json:"active"`
}

// SharedDocument is what a share link resolves to.
type SharedDocument struct {
	Document domain.Document `json:"document"`
	Download DownloadURL     `json:"download"`
	Outline  OutlineView     `json:"outline"`
}

// CreateShare mints a link to a document the user owns.
func (a *App) CreateShare(userID, documentID string, in CreateShareInput) (ShareView, error) {
	doc, err := a.ownedDocument(userID, documentID)
	if err != nil {
		return ShareView{}, err
	}
	if in.ExpiresInHours < 0 || in.ExpiresInHours > maxShareHours {
		return ShareView{}, invalid(fmt.Sprintf("expiresInHours must be between 0 and %d", maxShareHours))
	}
	var hash string
	if in.Password != "" {
		if err := auth.ValidatePassword(in.Password); err != nil {
			return ShareView{}, invalid(err.Error())
		}
		hash, err = auth.HashPassword(in.Password)
		if err != nil {
			return ShareView{}, err
		}
	}
	token, err := auth.NewShareToken()
	if err != nil {
		return ShareView{}, err
	}
	now := a.now().UTC()
	link := domain.ShareLink{
		Token:        token,
		DocumentID:   doc.ID,
		OwnerID:      userID,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	if in.ExpiresInHours > 0 {
		expires := now.Add(time.Duration(in.ExpiresInHours) * time.Hour)
		link.ExpiresAt = &expires
	}
	if err := a.store.CreateShareLink(link); err != nil {
		return ShareView{}, fmt.Errorf("create share link: %w", err)
	}
	return a.shareView(link), nil
}

// ListShares returns every link of a document, revoked ones included.
func (a *App) ListShares(userID, documentID string) ([]ShareView, error) {
	doc, err := a.ownedDocument(userID, documentID)
	if err != nil {
		return nil, err
	}
	links, err := a.store.ListShareLinks(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list share links: %w", err)
	}
	out := make([]ShareView, 0, len(links))
	for _, link := range links {
		out = append(out, a.shareView(link))
	}
	return out, nil
}

// RevokeShare disables a link. Revoking twice is not an error.
func (a *App) RevokeShare(userID, token string) error {
	link, ok, err := a.store.GetShareLink(token)
	if err != nil {
		return fmt.Errorf("get share link: %w", err)
	}
	if !ok {
		return ErrShareNotFound
	}
	if link.OwnerID != userID {
		return ErrForbidden
	}
	if link.RevokedAt != nil {
		return nil
	}
	return a.store.RevokeShareLink(token, a.now().UTC())
}

// ResolveShare opens a link for an anonymous reader. Expired and revoked
// links are reported as missing.
func (a *App) ResolveShare(ctx context.Context, token, password string) (SharedDocument, error) {
	link, ok, err := a.store.GetShareLink(token)
	if err != nil {
		return SharedDocument{}, fmt.Errorf("get share link: %w", err)
	}
	if !ok || !link.Active(a.now()) {
		return SharedDocument{}, ErrShareNotFound
	}
	if link.HasPassword() && !auth.CheckPassword(password, link.PasswordHash) {
		return SharedDocument{}, ErrSharePassword
	}
	doc, ok, err := a.store.GetDocument(link.DocumentID)
	if err != nil {
		return SharedDocument{}, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return SharedDocument{}, ErrShareNotFound
	}
	download, err := a.downloadURL(ctx, doc)
	if err != nil {
		return SharedDocument{}, err
	}
	view, err := a.outlineView(doc)
	if err != nil {
		return SharedDocument{}, err
	}
	doc.StorageKey = ""
	return SharedDocument{Document: doc, Download: download, Outline: view}, nil
}

func (a *App) shareView(link domain.ShareLink) ShareView {
	return ShareView{ShareLink: link, HasPassword: link.HasPassword(), Active: link.Active(a.now())}
}
