// Package source загружает записи заказов для шага Data Pull.
//
// Источник задаётся ссылкой: путь к файлу (относительно каталога
// landing-данных или абсолютный) либо s3://bucket/key. Поддерживаются
// CSV с заголовком, JSON (массив или одиночный объект) и YAML.
//
// Поиск полей нечувствителен к регистру: для "OrderId" сначала
// проверяется "OrderId", затем "orderId", затем любой ключ,
// совпадающий без учёта регистра.
package source
