package mcpserver

const dataFormatsURI = "foxtales://data-formats"

// DataFormats describes the JSON documents Foxtales tools return, so LLM
// consumers can interpret them.
const DataFormats = `# Foxtales Data Formats

## Library book (list_books, get_book)

Books come from a Calibre library. Every field calibredb reports is passed
through; the ones Foxtales relies on are:

` + "```" + `json
{
  "id": 42,
  "title": "Dune",
  "authors": "Frank Herbert",
  "formats": ["EPUB", "PDF"],
  "*fxtl_owner": "alice",
  "*fxtl_users": ["bob"],
  "progress": {"position": 0.25, "lastUpdated": 1718000000}
}
` + "```" + `

- ` + "`" + `*fxtl_owner` + "`" + ` names the owner, who may remove the book and change its readers.
- ` + "`" + `*fxtl_users` + "`" + ` lists the readers; containing ` + "`" + `everybody` + "`" + ` or ` + "`" + `*` + "`" + ` makes the book visible to all users.
- A book with neither owner nor readers is visible to everybody.
- ` + "`" + `progress` + "`" + ` only appears in get_book and belongs to the service user.

## Reading progress (get_progress)

` + "`" + `position` + "`" + ` is a fraction of the book between 0 and 1; ` + "`" + `lastUpdated` + "`" + ` is
seconds since the Unix epoch. A user who never opened the book has
` + "`" + `{"position": 0, "lastUpdated": 0}` + "`" + `.

With ` + "`" + `all_users` + "`" + ` the whole per-book document is returned:

` + "```" + `json
{"userdata": {"alice": {"progress": {"position": 0.5, "lastUpdated": 1718000000}}}}
` + "```" + `

## Comic (list_comics, get_comic, import_comic)

Comics are CBZ archives. Each image is one chapter, in natural order
(page2 before page10).

` + "```" + `json
{
  "version": 3,
  "identifier": "0b1f4c5e9d2a4f7e8c6b5a4d3e2f1a0b",
  "title": "Fox Tales",
  "format": "cbz",
  "mimetype": "application/vnd.comicbook+zip",
  "chapters": [{"identifier": "0b1f4c5e9d2a4f7e8c6b5a4d3e2f1a0b_00000", "title": "cover", "length": 1}],
  "progress": {"chapter": 0, "position": 0, "lastUpdated": 1718000000}
}
` + "```" + `

- ` + "`" + `progress.chapter` + "`" + ` is the 0-based index into ` + "`" + `chapters` + "`" + `.
- ` + "`" + `version` + "`" + ` grows by one on every progress update.
- list_comics returns summaries: identifier, title, page count and progress.
`
