package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("host_schedule")

		collection.Fields.Add(
			&core.TextField{Name: "group", Required: true},
			// Per-line hour ranges, e.g. "0-2晚间档".
			&core.TextField{Name: "schedule"},
			&core.JSONField{Name: "fixed_hosts"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_host_schedule_group", true, "`group`", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("host_schedule")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
