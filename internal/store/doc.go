// Package store persists pipeline state in SQLite: comparison jobs and
// their status machine, drawing versions, incremental extraction logs,
// change records, and dead-lettered messages.
//
// Every mutation that stage workers can repeat under redelivery is written
// so a second execution changes nothing: status moves are compare-and-set
// on the current status, page and dead-letter inserts rely on conflict
// targets, and summaries only land in an empty slot.
package store
