// Package objectstore persists transformed images and serves them back over
// HTTP. Keys are random <uuid>.jpg names so concurrent writers never collide.
package objectstore
