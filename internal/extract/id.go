package extract

import "github.com/google/uuid"

// ArticleID derives the stable record id of an article: a UUIDv5 of the URL in the DNS namespace.
func ArticleID(rawURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(rawURL)).String()
}
