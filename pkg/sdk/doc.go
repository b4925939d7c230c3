// Package ragvault embeds a per-user document vault with retrieval-augmented answers.
//
// Documents are stored on disk, split into overlapping chunks, embedded and appended to a
// local vector index. Questions are answered from the asking user's chunks only.
//
//	vault, _ := ragvault.New(ctx, ragvault.WithBaseDir("/var/lib/vault"))
//	defer vault.Close()
//
//	_, _ = vault.Ingest(ctx, ragvault.Document{
//	    ID: "d1", UserID: "u1", Title: "France",
//	    Filename: "france.txt", Content: []byte("Paris is the capital of France."),
//	})
//	answer, _ := vault.Query(ctx, ragvault.Question{Text: "What is the capital of France?", UserID: "u1"})
//
// Without WithEmbedder or WithOpenAI the vault embeds locally with feature hashing and
// answers extractively, so it works offline.
package ragvault
