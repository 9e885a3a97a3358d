package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("member_accum")

		collection.Fields.Add(
			&core.TextField{Name: "group", Required: true},
			&core.TextField{Name: "member", Required: true},
			// Decimal totals travel as strings to avoid float drift.
			&core.TextField{Name: "in_progress"},
			&core.TextField{Name: "completed"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_member_accum_group_member", true, "`group`, `member`", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("member_accum")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
