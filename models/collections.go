package models

import (
	"sort"

	"github.com/meinhoongagan/service-marketplace/db"
)

// Collection names as they appear in the data directory.
const (
	UsersCollection            = "Users"
	CategoriesCollection       = "Service_Categories"
	ServicesCollection         = "Services"
	BookingsCollection         = "Bookings"
	PaymentsCollection         = "Payments"
	ReviewsCollection          = "Reviews"
	ChatMessagesCollection     = "Chat_Messages"
	NotificationsCollection    = "Notifications"
	SupportTicketsCollection   = "Support_Tickets"
	PlatformSettingsCollection = "Platform_Settings"
	PlatformMetricsCollection  = "Platform_Metrics"
	ActivityLogCollection      = "Activity_Log"
	OperationLogCollection     = "Operation_Log"
)

func fk(collection, field string) db.ForeignKey {
	return db.ForeignKey{Collection: collection, Field: field}
}

func optionalFK(collection, field string) db.ForeignKey {
	return db.ForeignKey{Collection: collection, Field: field, Optional: true}
}

// Schema holds the constraints of every collection.
var Schema = map[string]db.Constraints{
	UsersCollection: {
		Unique: [][]string{{"email"}, {"nid_number"}},
	},
	CategoriesCollection: {
		ForeignKeys: []db.ForeignKey{optionalFK(UsersCollection, "requested_by")},
		Unique:      [][]string{{"category_name"}},
	},
	ServicesCollection: {
		ForeignKeys: []db.ForeignKey{
			fk(CategoriesCollection, "category_id"),
			fk(UsersCollection, "provider_id"),
		},
	},
	BookingsCollection: {
		ForeignKeys: []db.ForeignKey{
			fk(UsersCollection, "user_id"),
			fk(ServicesCollection, "service_id"),
			fk(UsersCollection, "provider_id"),
		},
	},
	PaymentsCollection: {
		ForeignKeys: []db.ForeignKey{fk(BookingsCollection, "booking_id")},
		Unique:      [][]string{{"booking_id"}, {"transaction_id"}},
	},
	ReviewsCollection: {
		ForeignKeys: []db.ForeignKey{
			fk(BookingsCollection, "booking_id"),
			fk(UsersCollection, "user_id"),
			fk(UsersCollection, "provider_id"),
		},
		Unique: [][]string{{"booking_id"}},
	},
	ChatMessagesCollection: {
		ForeignKeys: []db.ForeignKey{
			fk(BookingsCollection, "booking_id"),
			fk(UsersCollection, "sender_id"),
			fk(UsersCollection, "receiver_id"),
		},
	},
	NotificationsCollection: {
		ForeignKeys: []db.ForeignKey{
			fk(UsersCollection, "user_id"),
			optionalFK(BookingsCollection, "booking_id"),
		},
		Unique: [][]string{{"dedupe_key"}},
	},
	SupportTicketsCollection: {
		ForeignKeys: []db.ForeignKey{fk(UsersCollection, "user_id")},
	},
	PlatformSettingsCollection: {
		ForeignKeys: []db.ForeignKey{optionalFK(UsersCollection, "updated_by")},
		Unique:      [][]string{{"setting_key"}},
	},
	PlatformMetricsCollection: {},
	ActivityLogCollection: {
		ForeignKeys: []db.ForeignKey{optionalFK(UsersCollection, "admin_id")},
		Unique:      [][]string{{"operation_token"}},
	},
	OperationLogCollection: {
		ForeignKeys: []db.ForeignKey{optionalFK(BookingsCollection, "booking_id")},
		Unique:      [][]string{{"token"}},
	},
}

// Reference is a foreign key field of one collection.
type Reference struct {
	Collection string
	Field      string
}

// ReferencesTo lists every foreign key in Schema that points at target,
// ordered by collection and field.
func ReferencesTo(target string) []Reference {
	var out []Reference
	for name, cons := range Schema {
		for _, fk := range cons.ForeignKeys {
			if fk.Collection == target {
				out = append(out, Reference{Collection: name, Field: fk.Field})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Collection != out[j].Collection {
			return out[i].Collection < out[j].Collection
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// Tables bundles a typed table per collection over one store.
type Tables struct {
	Store *db.Store

	Users          *db.Table[User]
	Categories     *db.Table[ServiceCategory]
	Services       *db.Table[Service]
	Bookings       *db.Table[Booking]
	Payments       *db.Table[Payment]
	Reviews        *db.Table[Review]
	ChatMessages   *db.Table[ChatMessage]
	Notifications  *db.Table[Notification]
	SupportTickets *db.Table[SupportTicket]
	Settings       *db.Table[PlatformSetting]
	Metrics        *db.Table[PlatformMetric]
	ActivityLog    *db.Table[ActivityLog]
	Operations     *db.Table[Operation]
}

func NewTables(store *db.Store) *Tables {
	return &Tables{
		Store:          store,
		Users:          db.NewTable[User](store, UsersCollection, Schema[UsersCollection]),
		Categories:     db.NewTable[ServiceCategory](store, CategoriesCollection, Schema[CategoriesCollection]),
		Services:       db.NewTable[Service](store, ServicesCollection, Schema[ServicesCollection]),
		Bookings:       db.NewTable[Booking](store, BookingsCollection, Schema[BookingsCollection]),
		Payments:       db.NewTable[Payment](store, PaymentsCollection, Schema[PaymentsCollection]),
		Reviews:        db.NewTable[Review](store, ReviewsCollection, Schema[ReviewsCollection]),
		ChatMessages:   db.NewTable[ChatMessage](store, ChatMessagesCollection, Schema[ChatMessagesCollection]),
		Notifications:  db.NewTable[Notification](store, NotificationsCollection, Schema[NotificationsCollection]),
		SupportTickets: db.NewTable[SupportTicket](store, SupportTicketsCollection, Schema[SupportTicketsCollection]),
		Settings:       db.NewTable[PlatformSetting](store, PlatformSettingsCollection, Schema[PlatformSettingsCollection]),
		Metrics:        db.NewTable[PlatformMetric](store, PlatformMetricsCollection, Schema[PlatformMetricsCollection]),
		ActivityLog:    db.NewTable[ActivityLog](store, ActivityLogCollection, Schema[ActivityLogCollection]),
		Operations:     db.NewTable[Operation](store, OperationLogCollection, Schema[OperationLogCollection]),
	}
}
