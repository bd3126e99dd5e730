// Package csv2iceberg loads CSV files into Apache Iceberg tables kept on
// S3-compatible object storage.
//
// A Pipeline runs four stages against one bucket:
//
//   - bootstrap: connect to the object store and create the bucket if missing
//   - upload: copy the local CSV file into the bucket
//   - session: open a hadoop catalog whose warehouse lives in the bucket,
//     s3a://<bucket>/iceberg_data by default
//   - table: read the uploaded file with schema inference, append it to the
//     table, load the table back by its location and print schema and rows
//
// # Quick Start
//
// Run the pipeline against a local MinIO with its default credentials:
//
//	res, err := csv2iceberg.NewPipeline(
//	    csv2iceberg.WithSourceFile("./data/data.csv"),
//	    csv2iceberg.WithTable("iceberg_table_name"),
//	).Run(ctx)
//
// Or drive the steps yourself through a Session:
//
//	session, err := csv2iceberg.NewSession(ctx,
//	    csv2iceberg.WithS3(&csv2iceberg.S3Config{
//	        Endpoint:        "127.0.0.1:9000",
//	        AccessKeyID:     "minioadmin",
//	        SecretAccessKey: "minioadmin",
//	        ForcePathStyle:  true,
//	    }),
//	)
//	ds, err := session.ReadCSV(ctx, "s3a://my-first-bucket/data.csv")
//	snap, err := session.SaveAsTable(ctx, ds, "iceberg_table_name", csv2iceberg.SaveModeAppend)
//	tbl, err := session.LoadTable(ctx, "s3a://my-first-bucket/iceberg_data/default/iceberg_table_name")
//
// # Concurrent Writers
//
// Every append commits its own snapshot. A writer that loses the race for
// the next metadata version refreshes the table and retries with
// exponential backoff, so concurrent appends never lose rows.
package csv2iceberg
