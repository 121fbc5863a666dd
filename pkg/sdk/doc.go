// Package librarian embeds the book recommendation pipeline in a Go program
// without running the HTTP API.
//
// The client talks to an OpenAI-compatible provider and keeps the catalog
// either in Valkey/Redis with the search module or in process memory.
//
//	client, _ := librarian.New(ctx,
//	    librarian.WithMemory(),
//	    librarian.WithOpenAI(os.Getenv("OPENAI_API_KEY"), ""),
//	)
//	defer client.Close()
//
//	_, _ = client.Ingest(ctx, []librarian.Book{
//	    {Title: "1984", Summary: "...", Themes: []string{"dystopia"}},
//	})
//	rec, _ := client.Recommend(ctx, "a novel about surveillance", 0)
//	fmt.Println(rec.ChosenTitle, rec.Answer)
package librarian
